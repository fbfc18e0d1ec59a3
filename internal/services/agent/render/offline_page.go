package render

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

type offlinePageData struct {
	Lang    string
	Title   string
	Heading string
	Body    string
	Retry   string
}

const offlineStyles = `body{font-family:system-ui,sans-serif;background:#0f172a;color:#e2e8f0;display:flex;min-height:100vh;align-items:center;justify-content:center;margin:0}` +
	`main{max-width:28rem;padding:2rem;text-align:center}` +
	`h1{font-size:1.5rem;margin:0 0 1rem}` +
	`button{margin-top:1.5rem;padding:.75rem 1.5rem;border:0;border-radius:.5rem;background:#f59e0b;color:#0f172a;font-weight:600}`

// offlinePage renders the offline document.
func offlinePage(page offlinePageData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		parts := []string{
			`<!DOCTYPE html><html lang="`, templ.EscapeString(page.Lang), `">`,
			`<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">`,
			`<title>`, templ.EscapeString(page.Title), `</title>`,
			`<style>`, offlineStyles, `</style></head>`,
			`<body><main><h1>`, templ.EscapeString(page.Heading), `</h1>`,
			`<p>`, templ.EscapeString(page.Body), `</p>`,
			`<button type="button" onclick="window.location.reload()">`, templ.EscapeString(page.Retry), `</button>`,
			`</main></body></html>`,
		}
		for _, part := range parts {
			if _, err := io.WriteString(w, part); err != nil {
				return err
			}
		}
		return nil
	})
}
