package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"github.com/titanfleet/fleet-agent/internal/platform/httpx"
	"github.com/titanfleet/fleet-agent/internal/platform/observability"
	"github.com/titanfleet/fleet-agent/internal/platform/timeouts"
	"github.com/titanfleet/fleet-agent/internal/services/agent/clients"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
	"github.com/titanfleet/fleet-agent/internal/services/agent/push"
	"github.com/titanfleet/fleet-agent/internal/services/agent/render"
	"github.com/titanfleet/fleet-agent/internal/services/agent/router"
)

// ControlPrefix is the path prefix of every control route.
const ControlPrefix = "/__fleet-agent"

const maxPushPayload = 64 << 10

// Host is the Dispatcher plus the operator queries the control routes serve.
type Host interface {
	Dispatcher
	Enqueue(ctx context.Context, record domain.LocationRecord) (int, error)
	Pending(ctx context.Context) []domain.LocationRecord
	Status(ctx context.Context) Status
}

// HandlerConfig wires the agent HTTP surface.
type HandlerConfig struct {
	Host Host
	// Proxy receives requests the router does not intercept.
	Proxy     http.Handler
	Clients   *clients.Registry
	Scheduler *SyncScheduler
	PushAuth  push.TokenConfig
	Logger    *log.Logger
}

type handler struct {
	host      Host
	proxy     http.Handler
	clients   *clients.Registry
	scheduler *SyncScheduler
	pushAuth  push.TokenConfig
	logger    *log.Logger
}

// NewHandler builds the agent's HTTP handler with its middleware chain.
func NewHandler(cfg HandlerConfig) (http.Handler, error) {
	if cfg.Host == nil {
		return nil, errors.New("handler host is required")
	}
	if cfg.Proxy == nil {
		return nil, errors.New("handler proxy is required")
	}
	if cfg.Clients == nil {
		return nil, errors.New("handler client registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	h := &handler{
		host:      cfg.Host,
		proxy:     cfg.Proxy,
		clients:   cfg.Clients,
		scheduler: cfg.Scheduler,
		pushAuth:  cfg.PushAuth,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+ControlPrefix+"/events", cfg.Clients.EventsHandler())
	mux.HandleFunc("POST "+ControlPrefix+"/clients/{id}", h.handleClientUpdate)
	mux.HandleFunc("POST "+ControlPrefix+"/message", h.handleMessage)
	mux.HandleFunc("POST "+ControlPrefix+"/sync", h.handleSync)
	mux.HandleFunc("GET "+ControlPrefix+"/queue", h.handleQueueList)
	mux.HandleFunc("POST "+ControlPrefix+"/queue", h.handleQueueAppend)
	mux.HandleFunc("POST "+ControlPrefix+"/push", h.handlePush)
	mux.HandleFunc("POST "+ControlPrefix+"/notificationclick", h.handleNotificationClick)
	mux.HandleFunc("GET "+ControlPrefix+"/status", h.handleStatus)
	mux.HandleFunc(ControlPrefix+"/", func(w http.ResponseWriter, r *http.Request) {
		_ = httpx.WriteJSONError(w, http.StatusNotFound, "unknown control route")
	})
	mux.HandleFunc("/", h.handleFetch)

	return httpx.Chain(
		mux,
		httpx.RequestID(),
		httpx.RecoverPanic(logger),
		observability.RequestLogger(logger),
		render.LanguageMiddleware(),
	), nil
}

func (h *handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	resp, err := h.host.OnFetch(r.Context(), r)
	if apperrors.HasCode(err, apperrors.CodeNotIntercepted) {
		h.proxy.ServeHTTP(w, r)
		return
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	router.WriteResponse(w, resp)
}

type clientUpdateRequest struct {
	URL     string `json:"url"`
	Focused bool   `json:"focused"`
}

func (h *handler) handleClientUpdate(w http.ResponseWriter, r *http.Request) {
	var req clientUpdateRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.clients.Update(r.PathValue("id"), strings.TrimSpace(req.URL), req.Focused); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var command domain.Command
	if err := httpx.DecodeJSON(r, &command, false); err != nil {
		httpx.WriteError(w, err)
		return
	}
	result, err := h.host.OnMessage(r.Context(), command)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

type syncRequest struct {
	Tag string `json:"tag"`
}

func (h *handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		httpx.WriteError(w, err)
		return
	}
	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		httpx.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "sync tag is required"))
		return
	}
	result, err := h.host.OnSyncTrigger(r.Context(), tag)
	if err != nil {
		if h.scheduler != nil {
			h.scheduler.Register(tag)
		}
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

type queueResponse struct {
	Locations []domain.LocationRecord `json:"locations"`
	Length    int                     `json:"length"`
}

func (h *handler) handleQueueList(w http.ResponseWriter, r *http.Request) {
	pending := h.host.Pending(r.Context())
	if pending == nil {
		pending = []domain.LocationRecord{}
	}
	_ = httpx.WriteJSON(w, http.StatusOK, queueResponse{Locations: pending, Length: len(pending)})
}

func (h *handler) handleQueueAppend(w http.ResponseWriter, r *http.Request) {
	var record domain.LocationRecord
	if err := httpx.DecodeJSON(r, &record, false); err != nil {
		httpx.WriteError(w, err)
		return
	}
	length, err := h.host.Enqueue(r.Context(), record)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusAccepted, map[string]int{"length": length})
}

func (h *handler) handlePush(w http.ResponseWriter, r *http.Request) {
	if err := push.VerifyToken(h.pushAuth, r.Header.Get("Authorization")); err != nil {
		httpx.WriteError(w, err)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload+1))
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeInvalidRequest, "read push payload", err))
		return
	}
	if len(payload) > maxPushPayload {
		httpx.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "push payload too large"))
		return
	}
	spec, err := h.host.OnPush(r.Context(), payload)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, spec)
}

type clickRequest struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

func (h *handler) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := httpx.DecodeJSON(r, &req, true); err != nil {
		httpx.WriteError(w, err)
		return
	}
	result, err := h.host.OnNotificationClick(r.Context(), req.Action, req.Data)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, h.host.Status(r.Context()))
}

// Server serves the agent HTTP surface over HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *log.Logger
}

// NewServer wraps handler in an h2c-capable http.Server.
func NewServer(addr string, handler http.Handler, logger *log.Logger) (*Server, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("http address is required")
	}
	if handler == nil {
		return nil, errors.New("http handler is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		shutdownTimeout: timeouts.Shutdown,
		logger:          logger,
	}, nil
}

// Serve runs the server on listener until ctx ends.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	serveErr := make(chan error, 1)
	s.logger.Printf("agent http server listening on %s", listener.Addr())
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// OnShutdown registers fn to run when shutdown begins, before connections
// drain. Long-lived streams use it to end.
func (s *Server) OnShutdown(fn func()) {
	s.httpServer.RegisterOnShutdown(fn)
}
