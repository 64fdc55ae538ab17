package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"fxpanel/internal/domain"
	"fxpanel/internal/usecase/fxrunner"
)

// playerRequest is the body of POST /api/players/{action}.
type playerRequest struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type playerEvent struct {
	Target string `json:"target"`
	Author string `json:"author"`
	Reason string `json:"reason"`
}

func translate(deps HandlerDeps, key string, vars map[string]string) string {
	if deps.Translator == nil {
		return key
	}
	return deps.Translator.T(key, vars)
}

func invalid(detail string) error {
	return domain.NewDomainError("gateway.players", domain.ErrInvalidInput, detail)
}

// playerCommand builds the server command for action. The returned event name
// is sent to resources after the command succeeds; empty means none.
func playerCommand(deps HandlerDeps, action, author string, req playerRequest) (cmd, event string, err error) {
	id := strings.TrimSpace(req.ID)
	msg := strings.TrimSpace(req.Message)
	reason := strings.TrimSpace(req.Reason)

	needID := action == "message" || action == "kick" || action == "warn"
	if needID && id == "" {
		return "", "", invalid("player id is required")
	}

	switch action {
	case "message":
		if msg == "" {
			return "", "", invalid("message is required")
		}
		return fxrunner.FormatCommand("txaSendDM", id, author, msg), "", nil
	case "kick":
		if reason == "" {
			reason = translate(deps, "player_actions.no_reason", nil)
		}
		text := "[fxpanel] " + translate(deps, "player_actions.kick_reason", map[string]string{
			"author": author,
			"reason": reason,
		})
		return fxrunner.FormatCommand("txaKickID", id, text), "playerKicked", nil
	case "warn":
		if reason == "" {
			return "", "", invalid("reason is required")
		}
		return fxrunner.FormatCommand("txaWarnID", id, author, reason,
			translate(deps, "nui_warning.title", nil),
			translate(deps, "nui_warning.warned_by", nil),
			translate(deps, "nui_warning.instruction", nil),
		), "playerWarned", nil
	case "broadcast":
		if msg == "" {
			return "", "", invalid("message is required")
		}
		return fxrunner.FormatCommand("txaBroadcast", author, msg), "", nil
	default:
		return "", "", domain.NewDomainError("gateway.players", domain.ErrNotFound, "unknown action "+strconv.Quote(action))
	}
}

func playerActionHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req playerRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		ctx := r.Context()
		author := ClientFrom(ctx).Name

		cmd, event, err := playerCommand(deps, r.PathValue("action"), author, req)
		if err != nil {
			if domain.ErrorCodeOf(err) == domain.CodeNotFound {
				writeAlert(w, http.StatusNotFound, alertDanger, alertMessage(err))
				return
			}
			writeError(w, err)
			return
		}

		out, err := captureOutput(ctx, deps, cmd, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		if event != "" {
			deps.Supervisor.SendEvent(ctx, event, playerEvent{
				Target: strings.TrimSpace(req.ID),
				Author: author,
				Reason: strings.TrimSpace(req.Reason),
			})
		}
		writeAlert(w, http.StatusOK, alertSuccess, out)
	}
}
