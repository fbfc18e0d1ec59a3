package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.MustParse("pt-BR")

	message.SetString(lang, "offline.title", "Sem conexão | %s")
	message.SetString(lang, "offline.heading", "Você está sem conexão")
	message.SetString(lang, "offline.body", "O %s não consegue alcançar o servidor agora. Os dados capturados continuam salvos neste dispositivo e serão enviados quando a conexão voltar.")
	message.SetString(lang, "offline.retry", "Tentar novamente")
	message.SetString(lang, "offline.placeholder", "Sem conexão")
	message.SetString(lang, "notification.default.body", "Você tem uma nova atualização da frota.")
	message.SetString(lang, "notification.action.open", "Abrir")
	message.SetString(lang, "notification.action.dismiss", "Dispensar")
}
