package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fxpanel/internal/domain"
)

// Supervisor is the part of the FXServer runner the gateway drives.
type Supervisor interface {
	Status() domain.ServerStatus
	Recent() []domain.ConsoleChunk
	Spawn(ctx context.Context, announce bool) error
	Restart(ctx context.Context, reason string) error
	Kill(ctx context.Context, reason string) bool
	SendCommand(ctx context.Context, text string) bool
	SendCommandAndCapture(ctx context.Context, text string, window time.Duration) (string, error)
	SendEvent(ctx context.Context, name string, data any) bool
}

// HitchReporter summarizes recent server stalls for status pages.
type HitchReporter interface {
	HitchSummary() string
}

// AuditReader lists recorded commands.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]domain.CommandAuditEntry, error)
}

// HandlerDeps holds dependencies needed by the HTTP and RPC handlers.
type HandlerDeps struct {
	Supervisor Supervisor
	Hitches    HitchReporter     // can be nil
	Audit      AuditReader       // can be nil (audit disabled)
	Translator domain.Translator // can be nil
	Bus        domain.EventBus
	Logger     *slog.Logger
}

const (
	alertSuccess = "success"
	alertDanger  = "danger"

	noOutput = "no output"

	defaultAuditLimit = 50
	maxAuditLimit     = 500
	maxBodyBytes      = 64 << 10
)

// alert is the response shape the web UI renders as a toast.
type alert struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RegisterRESTHandlers registers the control API on the gateway server.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) *Metrics {
	metrics := NewMetrics(deps.Bus)

	s.RegisterHTTPRoute("GET /api/server/status", statusHandler(deps))
	s.RegisterHTTPRoute("GET /api/server/console", consoleHandler(deps))
	s.RegisterHTTPRoute("POST /api/server/{action}", requireControl(serverActionHandler(deps)))
	s.RegisterHTTPRoute("POST /api/server/command", requireControl(commandHandler(deps)))
	s.RegisterHTTPRoute("POST /api/players/{action}", requireControl(playerActionHandler(deps)))
	s.RegisterHTTPRoute("GET /api/audit/commands", auditHandler(deps))
	s.RegisterHTTPRoute("GET /metrics", metricsHandler(deps, metrics))

	s.RegisterHandler("server.status", func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(serverStatus(deps))
	})
	s.RegisterHandler("server.command", func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		if !client.CanControl() {
			return nil, domain.ErrPermissionDenied
		}
		var req commandRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.NewDomainError("gateway.server.command", domain.ErrInvalidInput, err.Error())
		}
		out, err := runCommand(ctx, deps, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(alert{Type: alertSuccess, Message: out})
	})

	return metrics
}

// requireControl rejects clients whose roles only allow reading.
func requireControl(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ClientFrom(r.Context()).CanControl() {
			writeAlert(w, http.StatusForbidden, alertDanger, domain.ErrPermissionDenied.Error())
			return
		}
		next(w, r)
	}
}

func serverStatus(deps HandlerDeps) domain.ServerStatus {
	st := deps.Supervisor.Status()
	if deps.Hitches != nil {
		st.Hitches = deps.Hitches.HitchSummary()
	}
	return st
}

func statusHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, serverStatus(deps))
	}
}

func consoleHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunks := deps.Supervisor.Recent()
		if chunks == nil {
			chunks = []domain.ConsoleChunk{}
		}
		writeJSON(w, http.StatusOK, chunks)
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func serverActionHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reasonRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		reason := strings.TrimSpace(req.Reason)
		ctx := r.Context()

		switch action := r.PathValue("action"); action {
		case "spawn":
			if err := deps.Supervisor.Spawn(ctx, true); err != nil {
				writeError(w, err)
				return
			}
			writeAlert(w, http.StatusOK, alertSuccess, "Starting server.")
		case "restart":
			if err := deps.Supervisor.Restart(ctx, reason); err != nil {
				writeError(w, err)
				return
			}
			writeAlert(w, http.StatusOK, alertSuccess, "Restarting server.")
		case "kill":
			if !deps.Supervisor.Kill(ctx, reason) {
				writeAlert(w, http.StatusInternalServerError, alertDanger, "Failed to stop the server.")
				return
			}
			writeAlert(w, http.StatusOK, alertSuccess, "Server stopped.")
		default:
			writeAlert(w, http.StatusNotFound, alertDanger, "unknown action "+strconv.Quote(action))
		}
	}
}

type commandRequest struct {
	Command  string `json:"command"`
	Capture  bool   `json:"capture"`
	WindowMS int    `json:"window_ms"`
}

func runCommand(ctx context.Context, deps HandlerDeps, req commandRequest) (string, error) {
	cmd := strings.TrimSpace(req.Command)
	if cmd == "" {
		return "", domain.NewDomainError("gateway.command", domain.ErrInvalidInput, "empty command")
	}
	if !req.Capture {
		if !deps.Supervisor.SendCommand(ctx, cmd) {
			return "", domain.ErrCommandFailed
		}
		return "Command sent.", nil
	}
	if req.WindowMS < 0 {
		return "", domain.NewDomainError("gateway.command", domain.ErrInvalidInput, "window_ms must be >= 0")
	}
	return captureOutput(ctx, deps, cmd, time.Duration(req.WindowMS)*time.Millisecond)
}

// captureOutput sends cmd through the capture bridge and substitutes a
// placeholder for empty output.
func captureOutput(ctx context.Context, deps HandlerDeps, cmd string, window time.Duration) (string, error) {
	out, err := deps.Supervisor.SendCommandAndCapture(ctx, cmd, window)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return noOutput, nil
	}
	return out, nil
}

func commandHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		out, err := runCommand(r.Context(), deps, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeAlert(w, http.StatusOK, alertSuccess, out)
	}
}

func auditHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Audit == nil {
			writeAlert(w, http.StatusNotFound, alertDanger, "command audit log is disabled")
			return
		}
		limit := defaultAuditLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeAlert(w, http.StatusBadRequest, alertDanger, "limit must be a positive integer")
				return
			}
			limit = min(n, maxAuditLimit)
		}
		entries, err := deps.Audit.Recent(r.Context(), limit)
		if err != nil {
			deps.Logger.Warn("audit query failed", "error", err)
			writeAlert(w, http.StatusInternalServerError, alertDanger, "failed to read the command audit log")
			return
		}
		if entries == nil {
			entries = []domain.CommandAuditEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return domain.NewDomainError("gateway.decode", domain.ErrInvalidInput, err.Error())
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.NewDomainError("gateway.decode", domain.ErrInvalidInput, "invalid JSON body")
	}
	return nil
}

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrMissingConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, domain.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCaptureBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrCommandFailed), errors.Is(err, domain.ErrRestartFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// alertMessage drops the operation prefix of domain errors.
func alertMessage(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) {
		if de.Detail != "" {
			return de.Err.Error() + ": " + de.Detail
		}
		return de.Err.Error()
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, err error) {
	writeAlert(w, statusFor(err), alertDanger, alertMessage(err))
}

func writeAlert(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, alert{Type: typ, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
