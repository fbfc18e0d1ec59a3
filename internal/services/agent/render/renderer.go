// Package render produces localized user-facing copy: the synthetic offline
// page and placeholder, and notification defaults.
package render

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/titanfleet/fleet-agent/internal/platform/branding"
	"github.com/titanfleet/fleet-agent/internal/platform/requestctx"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
)

const (
	defaultOfflineTitle       = "Offline | %s"
	defaultOfflineBody        = "%s cannot reach the server right now. Captured data stays on this device and is sent once the connection returns."
	defaultOfflinePlaceholder = "Offline"
	defaultNotificationBody   = "You have a new fleet update."
)

var supportedLanguages = []language.Tag{
	language.English,
	language.MustParse("pt-BR"),
}

var matcher = language.NewMatcher(supportedLanguages)

// Localizer is the minimal message-printer contract required by the renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// MatchLanguage negotiates an Accept-Language header against the supported languages.
func MatchLanguage(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return supportedLanguages[0]
	}
	_, index, _ := matcher.Match(tags...)
	return supportedLanguages[index]
}

// LanguageMiddleware stores the negotiated language in the request context.
func LanguageMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag := MatchLanguage(r.Header.Get("Accept-Language"))
			next.ServeHTTP(w, r.WithContext(requestctx.WithLanguage(r.Context(), tag)))
		})
	}
}

// Renderer builds localized offline responses and notification copy.
type Renderer struct {
	appName string
}

// New builds a Renderer. An empty appName uses the product name.
func New(appName string) *Renderer {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		appName = branding.AppName
	}
	return &Renderer{appName: appName}
}

// AppName returns the product name used in rendered copy.
func (r *Renderer) AppName() string {
	return r.appName
}

// Printer returns the localizer for tag.
func (r *Renderer) Printer(tag language.Tag) Localizer {
	return message.NewPrinter(tag)
}

func (r *Renderer) printerFor(req *http.Request) Localizer {
	if req != nil {
		if tag, ok := requestctx.LanguageFromContext(req.Context()); ok {
			return message.NewPrinter(tag)
		}
		return message.NewPrinter(MatchLanguage(req.Header.Get("Accept-Language")))
	}
	return message.NewPrinter(supportedLanguages[0])
}

// OfflineDocument renders the synthetic offline page with a 503 status.
func (r *Renderer) OfflineDocument(req *http.Request) domain.Snapshot {
	loc := r.printerFor(req)
	page := offlinePageData{
		Lang:    languageOf(req),
		Title:   localizeWithFallback(loc, "offline.title", defaultOfflineTitle, r.appName),
		Heading: localizeWithFallback(loc, "offline.heading", "You are offline"),
		Body:    localizeWithFallback(loc, "offline.body", defaultOfflineBody, r.appName),
		Retry:   localizeWithFallback(loc, "offline.retry", "Try again"),
	}
	var buf bytes.Buffer
	if err := offlinePage(page).Render(context.Background(), &buf); err != nil {
		buf.Reset()
		buf.WriteString(page.Heading)
	}
	return domain.Snapshot{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{
			"Content-Type":  {"text/html; charset=utf-8"},
			"Cache-Control": {"no-store"},
		},
		Body: buf.Bytes(),
	}
}

// OfflinePlaceholder renders the minimal plain-text 503 response.
func (r *Renderer) OfflinePlaceholder(req *http.Request) domain.Snapshot {
	loc := r.printerFor(req)
	return domain.Snapshot{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{
			"Content-Type":  {"text/plain; charset=utf-8"},
			"Cache-Control": {"no-store"},
		},
		Body: []byte(localizeWithFallback(loc, "offline.placeholder", defaultOfflinePlaceholder)),
	}
}

// NotificationCopy is the localized default text for notifications.
type NotificationCopy struct {
	Title   string
	Body    string
	Open    string
	Dismiss string
}

// NotificationDefaults returns default notification copy in tag's language.
func (r *Renderer) NotificationDefaults(tag language.Tag) NotificationCopy {
	loc := r.Printer(tag)
	return NotificationCopy{
		Title:   r.appName,
		Body:    localizeWithFallback(loc, "notification.default.body", defaultNotificationBody),
		Open:    localizeWithFallback(loc, "notification.action.open", "Open"),
		Dismiss: localizeWithFallback(loc, "notification.action.dismiss", "Dismiss"),
	}
}

func languageOf(req *http.Request) string {
	if req != nil {
		if tag, ok := requestctx.LanguageFromContext(req.Context()); ok {
			return tag.String()
		}
		return MatchLanguage(req.Header.Get("Accept-Language")).String()
	}
	return supportedLanguages[0].String()
}

func localize(loc Localizer, key string, args ...any) string {
	if loc == nil {
		return key
	}
	return loc.Sprintf(key, args...)
}

func localizeWithFallback(loc Localizer, key string, fallback string, args ...any) string {
	value := strings.TrimSpace(localize(loc, key, args...))
	if value == "" || value == key {
		if len(args) > 0 && strings.Contains(fallback, "%") {
			return message.NewPrinter(language.English).Sprintf(fallback, args...)
		}
		return fallback
	}
	return value
}
