package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Intercom receives the reports the FXServer side sends back to the panel.
// Requests carry the api token handed to FXServer at launch in the
// txAdminToken body field; there is no operator bearer token on this path.
type Intercom struct {
	token   string
	version string
	sup     Supervisor
	logger  *slog.Logger
	now     func() time.Time
	started time.Time

	mu          sync.Mutex
	heartbeat   time.Time
	resources   []json.RawMessage
	resourcesAt time.Time
}

// NewIntercom creates the intercom endpoint. An empty token rejects every
// request.
func NewIntercom(token, version string, sup Supervisor, logger *slog.Logger) *Intercom {
	return &Intercom{
		token:   token,
		version: version,
		sup:     sup,
		logger:  logger,
		now:     time.Now,
		started: time.Now(),
	}
}

// RegisterIntercom mounts the intercom endpoint outside operator auth.
func RegisterIntercom(s *Server, ic *Intercom) {
	s.RegisterPublicRoute("POST /intercom/{scope}", ic.handle)
}

// SetToken replaces the expected token, for a reloaded config.
func (ic *Intercom) SetToken(token string) {
	ic.mu.Lock()
	ic.token = token
	ic.mu.Unlock()
}

// LastHeartbeat returns when FXServer last reported in, zero if never.
func (ic *Intercom) LastHeartbeat() time.Time {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.heartbeat
}

// Resources returns the last reported resource list and when it arrived.
func (ic *Intercom) Resources() ([]json.RawMessage, time.Time) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return append([]json.RawMessage(nil), ic.resources...), ic.resourcesAt
}

type intercomRequest struct {
	Token     string            `json:"txAdminToken"`
	Resources []json.RawMessage `json:"resources"`
}

type intercomStats struct {
	Version       string `json:"version"`
	PanelUptime   int64  `json:"panelUptime"`
	FXServerState string `json:"fxServerState"`
	FXServerUp    int64  `json:"fxServerUptime"`
}

func (ic *Intercom) handle(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, err)
		return
	}
	var req intercomRequest
	if v, ok := raw["txAdminToken"]; ok {
		_ = json.Unmarshal(v, &req.Token)
	}
	ic.mu.Lock()
	token := ic.token
	ic.mu.Unlock()
	if token == "" || subtle.ConstantTimeCompare([]byte(req.Token), []byte(token)) != 1 {
		writeAlert(w, http.StatusUnauthorized, alertDanger, "invalid intercom token")
		return
	}

	switch scope := r.PathValue("scope"); scope {
	case "monitor":
		now := ic.now()
		ic.mu.Lock()
		ic.heartbeat = now
		ic.mu.Unlock()

		st := ic.sup.Status()
		writeJSON(w, http.StatusOK, intercomStats{
			Version:       ic.version,
			PanelUptime:   int64(now.Sub(ic.started) / time.Second),
			FXServerState: string(st.State),
			FXServerUp:    int64(st.Uptime / time.Second),
		})
	case "resources":
		v, ok := raw["resources"]
		if !ok || json.Unmarshal(v, &req.Resources) != nil || req.Resources == nil {
			writeAlert(w, http.StatusBadRequest, alertDanger, "Invalid Request")
			return
		}
		ic.mu.Lock()
		ic.resources = req.Resources
		ic.resourcesAt = ic.now()
		ic.mu.Unlock()
		ic.logger.Debug("intercom resources updated", "count", len(req.Resources))
		writeAlert(w, http.StatusOK, alertSuccess, strconv.Itoa(len(req.Resources))+" resources")
	default:
		writeAlert(w, http.StatusNotFound, alertDanger, "Unknown intercom scope.")
	}
}
