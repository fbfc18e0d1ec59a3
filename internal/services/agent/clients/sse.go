package clients

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const heartbeatInterval = 25 * time.Second

// EventsHandler serves the client link stream. The query carries the
// client's current url and focus state.
func (r *Registry) EventsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		query := req.URL.Query()
		focused, _ := strconv.ParseBool(strings.TrimSpace(query.Get("focused")))
		sub := r.Connect(strings.TrimSpace(query.Get("url")), focused)
		defer r.Disconnect(sub.ID)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: hello\ndata: {\"id\":%q}\n\n", sub.ID)
		flusher.Flush()

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		ctx := req.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done:
				return
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case msg := <-sub.Messages:
				fmt.Fprintf(w, "data: %s\n\n", msg)
				flusher.Flush()
			}
		}
	})
}
