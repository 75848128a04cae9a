package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proofofwork/core"
	"proofofwork/core/events"
	"proofofwork/gateway/middleware"
	"proofofwork/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
)

// ServerConfig collects the HTTP surface settings.
type ServerConfig struct {
	ServiceName string
	Auth        middleware.AuthConfig
	RateLimit   middleware.RateLimit
	CORS        middleware.CORSConfig
	LogRequests bool
	// Registerer and Gatherer default to the prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type eventSource interface {
	Subscribe() (<-chan events.Event, func())
}

// Server exposes the escrow node over JSON-RPC 2.0 plus health, metrics and
// event stream routes.
type Server struct {
	node   *core.Node
	lister escrowLister
	stream eventSource
	cfg    ServerConfig
	logger *slog.Logger
}

func NewServer(node *core.Node, cfg ServerConfig) *Server {
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "escrowd"
	}
	return &Server{node: node, lister: node, cfg: cfg, logger: slog.Default()}
}

// SetLister answers escrow_list from lister instead of scanning the ledger.
func (s *Server) SetLister(lister escrowLister) {
	if lister != nil {
		s.lister = lister
	}
}

// SetEventSource enables the /ws/escrow stream.
func (s *Server) SetEventSource(source eventSource) { s.stream = source }

// SetLogger replaces the default logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Handler builds the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: s.cfg.ServiceName,
		LogRequests: s.cfg.LogRequests,
	}, s.cfg.Registerer, s.logger)
	// Tokenless requests always reach the dispatcher, which gates them per
	// method.
	authCfg := s.cfg.Auth
	authCfg.AllowAnonymous = true
	auth := middleware.NewAuthenticator(authCfg, s.logger)
	limiter := middleware.NewRateLimiter(s.cfg.RateLimit, s.logger)
	limiter.OnThrottle(func() { observability.RPC().RecordThrottle("rate_limit") })

	r := chi.NewRouter()
	r.Use(middleware.CORS(s.cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	r.With(limiter.Middleware).Get("/ws/escrow", s.handleEscrowStream)
	r.With(obs.Middleware("rpc"), limiter.Middleware, auth.Middleware).Post("/", s.handle)
	return r
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func newError(status, code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data, status: status}
}

func invalidParams(err error) *RPCError {
	return newError(http.StatusBadRequest, codeInvalidParams, "invalid_params", err.Error())
}

func writeError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	status := rpcErr.status
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

type methodHandler func(r *http.Request, req *RPCRequest) (interface{}, *RPCError)

// presenceMethods act on a location claim or finish an already verified
// payout. They never need a token, even when anonymous reads are disabled.
var presenceMethods = map[string]struct{}{
	"escrow_verifyAndRelease": {},
	"escrow_retryRelease":     {},
}

func (s *Server) admitsAnonymous(method string) bool {
	if s.cfg.Auth.AllowAnonymous {
		return true
	}
	_, ok := presenceMethods[method]
	return ok
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"escrow_create":           s.handleEscrowCreate,
		"escrow_verifyAndRelease": s.handleEscrowVerifyAndRelease,
		"escrow_retryRelease":     s.handleEscrowRetryRelease,
		"escrow_cancel":           s.handleEscrowCancel,
		"escrow_get":              s.handleEscrowGet,
		"escrow_list":             s.handleEscrowList,
		"escrow_owner":            s.handleEscrowOwner,
		"pow_getBalance":          s.handleGetBalance,
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, nil, newError(status, codeInvalidRequest, message, err.Error()))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, nil, newError(http.StatusBadRequest, codeInvalidRequest, "request body required", nil))
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, nil, newError(http.StatusBadRequest, codeParseError, "invalid JSON payload", err.Error()))
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, req.ID, newError(http.StatusBadRequest, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC))
		return
	}
	if req.Method == "" {
		writeError(w, req.ID, newError(http.StatusBadRequest, codeInvalidRequest, "method required", nil))
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		observability.RPC().Observe("unknown", codeMethodNotFound, time.Since(start))
		writeError(w, req.ID, newError(http.StatusNotFound, codeMethodNotFound, "method not found", req.Method))
		return
	}
	if !s.admitsAnonymous(req.Method) {
		if _, rpcErr := requireCaller(r); rpcErr != nil {
			observability.RPC().Observe(req.Method, rpcErr.Code, time.Since(start))
			writeError(w, req.ID, rpcErr)
			return
		}
	}
	result, rpcErr := handler(r, req)
	if rpcErr != nil {
		observability.RPC().Observe(req.Method, rpcErr.Code, time.Since(start))
		writeError(w, req.ID, rpcErr)
		return
	}
	observability.RPC().Observe(req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}

// requireCaller returns the authenticated caller for methods acting on the
// caller's funds.
func requireCaller(r *http.Request) ([20]byte, *RPCError) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return [20]byte{}, newError(http.StatusUnauthorized, codeUnauthorized, "unauthorized", "bearer token required")
	}
	return caller.Raw(), nil
}

// decodeParams unmarshals the single parameter object. Methods whose
// parameters are all optional accept an empty params array.
func decodeParams(req *RPCRequest, out interface{}, optional bool) *RPCError {
	if len(req.Params) == 0 && optional {
		return nil
	}
	if len(req.Params) != 1 {
		return invalidParams(errors.New("exactly one parameter object expected"))
	}
	decoder := json.NewDecoder(bytes.NewReader(req.Params[0]))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return invalidParams(err)
	}
	return nil
}
