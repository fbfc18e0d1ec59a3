package router

import (
	"net/http"
	"strconv"
)

// WriteResponse writes a routed response, tagging it with its strategy and source.
func WriteResponse(w http.ResponseWriter, resp Response) {
	header := w.Header()
	for name, values := range resp.Snapshot.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(HeaderStrategy, string(resp.Class))
	header.Set(HeaderSource, string(resp.Source))
	header.Set("Content-Length", strconv.Itoa(len(resp.Snapshot.Body)))
	status := resp.Snapshot.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Snapshot.Body) > 0 {
		_, _ = w.Write(resp.Snapshot.Body)
	}
}
