package requestctx

import (
	"context"

	"golang.org/x/text/language"
)

// languageContextKey is the context key for the negotiated response language.
type languageContextKey struct{}

// WithLanguage stores the negotiated language in context.
func WithLanguage(ctx context.Context, tag language.Tag) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, languageContextKey{}, tag)
}

// LanguageFromContext returns the negotiated language stored in context.
func LanguageFromContext(ctx context.Context) (language.Tag, bool) {
	if ctx == nil {
		return language.Und, false
	}
	tag, ok := ctx.Value(languageContextKey{}).(language.Tag)
	return tag, ok
}
