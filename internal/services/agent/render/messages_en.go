package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, "offline.title", defaultOfflineTitle)
	message.SetString(lang, "offline.heading", "You are offline")
	message.SetString(lang, "offline.body", defaultOfflineBody)
	message.SetString(lang, "offline.retry", "Try again")
	message.SetString(lang, "offline.placeholder", defaultOfflinePlaceholder)
	message.SetString(lang, "notification.default.body", defaultNotificationBody)
	message.SetString(lang, "notification.action.open", "Open")
	message.SetString(lang, "notification.action.dismiss", "Dismiss")
}
