package fxrunner

import (
	"context"
	"encoding/json"
	"strings"
)

// fullWidthQuote replaces '"' inside command parameters so the server's own
// argument parser does not end the parameter early.
const fullWidthQuote = "＂"

// FormatCommand builds `cmd "p1" "p2"` with quotes in params escaped.
func FormatCommand(cmd string, params ...string) string {
	var b strings.Builder
	b.WriteString(cmd)
	for _, p := range params {
		b.WriteString(` "`)
		b.WriteString(strings.ReplaceAll(p, `"`, fullWidthQuote))
		b.WriteByte('"')
	}
	return b.String()
}

// SendEvent forwards a named event with a JSON payload to the server's
// resource through the txaEvent command.
func (r *Runner) SendEvent(ctx context.Context, name string, data any) bool {
	payload, err := json.Marshal(data)
	if err != nil {
		r.logger.Warn("event payload not serializable", "event", name, "error", err)
		return false
	}
	return r.SendCommand(ctx, FormatCommand("txaEvent", name, string(payload)))
}
