// ABOUTME: HTTP transport adapter bridging the /mcp endpoint to sessions
// ABOUTME: Handles session headers, context binding, and the HTTP error envelope

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/systempromptio/mcp-gateway/internal/engine"
	"github.com/systempromptio/mcp-gateway/internal/session"
	"github.com/systempromptio/mcp-gateway/internal/store"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Session and context binding headers. SessionHeader is canonical; the
// alternate spelling is accepted for clients that cannot set MCP headers.
const (
	SessionHeader    = "Mcp-Session-Id"
	AltSessionHeader = "X-Session-Id"
	ContextHeader    = "Mcp-Context-Id"
)

// Transport adapts HTTP requests on /mcp to per-session engine calls.
type Transport struct {
	registry       *session.Registry
	store          store.Store
	defaultContext string
	logger         *slog.Logger
}

// TransportConfig carries Transport dependencies.
type TransportConfig struct {
	Registry       *session.Registry
	Store          store.Store
	DefaultContext string
	Logger         *slog.Logger
}

func NewTransport(cfg TransportConfig) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		registry:       cfg.Registry,
		store:          cfg.Store,
		defaultContext: cfg.DefaultContext,
		logger:         logger.With("component", "transport"),
	}
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (t *Transport) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", t.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST and DELETE.
func (t *Transport) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// sessionID extracts the session id from either accepted header.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	return r.Header.Get(AltSessionHeader)
}

// handleDelete terminates a session. Evicting an unknown session returns 404.
func (t *Transport) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		http.Error(w, "Bad Request: missing session id", http.StatusBadRequest)
		return
	}
	if !t.registry.Evict(id) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes one JSON-RPC message.
func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		t.writeError(w, http.StatusBadRequest, nil, engine.CodeParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		t.writeError(w, http.StatusBadRequest, nil, engine.CodeInvalidRequest, "request body too large")
		return
	}

	var req engine.Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.writeError(w, http.StatusBadRequest, nil, engine.CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		t.writeError(w, http.StatusBadRequest, req.ID, engine.CodeInvalidRequest, "invalid JSON-RPC version")
		return
	}

	id := sessionID(r)

	var sess *session.Session
	if id == "" {
		// No session header means "start a new session", whatever the method.
		sess, err = t.createSession(r)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				t.writeError(w, http.StatusNotFound, req.ID, engine.CodeInvalidParams, "unknown context")
				return
			}
			t.logger.Error("session creation failed", "error", err)
			t.writeError(w, http.StatusInternalServerError, req.ID, engine.CodeInternalError, "Internal error")
			return
		}
	} else {
		sess, err = t.registry.Get(id)
		if err != nil {
			// Expired or never existed: the client must start over.
			t.writeError(w, http.StatusNotFound, req.ID, engine.CodeSessionNotFound, "Session not found")
			return
		}
	}

	// Echo the session id on both accepted header names so clients can
	// carry whichever they read back.
	w.Header().Set(SessionHeader, sess.ID)
	w.Header().Set(AltSessionHeader, sess.ID)

	resp := sess.Handle(r.Context(), req)
	if resp == nil {
		// Notification: accepted, no body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	status := http.StatusOK
	if resp.Error != nil && resp.Error.Code == engine.CodeInternalError {
		status = http.StatusInternalServerError
	}
	t.writeResponse(w, status, resp)
}

// createSession binds a new session to the requested capability context,
// verifying the context exists before the session is registered.
func (t *Transport) createSession(r *http.Request) (*session.Session, error) {
	contextID := r.Header.Get(ContextHeader)
	if contextID == "" {
		contextID = t.defaultContext
	}
	if _, err := t.store.GetContext(r.Context(), contextID); err != nil {
		return nil, err
	}
	return t.registry.Create(contextID), nil
}

func (t *Transport) writeResponse(w http.ResponseWriter, status int, resp *engine.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.logger.Warn("failed to encode response", "error", err)
	}
}

func (t *Transport) writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	t.writeResponse(w, status, engine.NewError(id, code, message, nil))
}
