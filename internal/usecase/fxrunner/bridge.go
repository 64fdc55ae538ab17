package fxrunner

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"fxpanel/internal/domain"
	"fxpanel/internal/infra/tracer"
)

// SendCommand writes text as one line to the server's stdin. It reports false
// when the server is not running or the write fails. Concurrent callers are
// written in arrival order.
func (r *Runner) SendCommand(ctx context.Context, text string) bool {
	r.mu.Lock()
	var stdin io.Writer
	if r.proc != nil && r.state == domain.ServerStateRunning {
		stdin = r.proc.Stdin()
	}
	r.mu.Unlock()

	if stdin == nil {
		r.logger.Debug("command dropped, server not running", "command", text)
		return false
	}

	r.writeMu.Lock()
	r.console.Write(domain.ConsoleCommand, text)
	_, err := io.WriteString(stdin, text+"\n")
	r.writeMu.Unlock()

	ok := err == nil
	if !ok {
		r.logger.Warn("failed to write command to server", "command", text, "error", err)
	}
	r.record(ctx, text, ok)
	if ok {
		r.emit(ctx, domain.EventCommandSent, commandPayload{Command: text})
	}
	return ok
}

// SendCommandAndCapture sends text and returns the output the server printed
// during window, ANSI sequences and the echoed command removed. A zero window
// uses the configured capture window. Only one capture runs at a time; later
// callers wait for their turn or for ctx. ctx does not shorten the window.
func (r *Runner) SendCommandAndCapture(ctx context.Context, text string, window time.Duration) (out string, err error) {
	ctx, span := tracer.StartSpan(ctx, "fxrunner.capture")
	defer func() { tracer.End(span, err) }()
	span.SetAttributes(tracer.StringAttr("command", text))

	if window <= 0 {
		r.mu.Lock()
		window = r.cfg.CaptureWindow
		r.mu.Unlock()
	}
	if window <= 0 {
		window = 1500 * time.Millisecond
	}

	if r.State() != domain.ServerStateRunning {
		return "", domain.NewDomainError("Runner.SendCommandAndCapture", domain.ErrNotRunning, "")
	}

	// A free slot is taken even when ctx is already done.
	select {
	case r.captureSem <- struct{}{}:
	default:
		select {
		case r.captureSem <- struct{}{}:
		case <-ctx.Done():
			return "", domain.NewDomainError("Runner.SendCommandAndCapture", domain.ErrCaptureBusy, ctx.Err().Error())
		}
	}
	defer func() { <-r.captureSem }()

	// Once the command is written the window always runs to the end.
	ctx = context.WithoutCancel(ctx)
	r.console.StartCapture()
	if !r.SendCommand(ctx, text) {
		r.console.StopCapture()
		return "", domain.NewDomainError("Runner.SendCommandAndCapture", domain.ErrCommandFailed, text)
	}

	if err := r.clock.Sleep(ctx, window); err != nil {
		r.logger.Debug("capture window interrupted", "error", err)
	}
	raw := r.console.StopCapture()
	out = stripEcho(ansi.Strip(raw), text)

	r.emit(ctx, domain.EventCommandCaptured, commandPayload{Command: text, Output: out})
	return out, nil
}

// stripEcho removes a leading echo of the command line some consoles print.
func stripEcho(out, cmd string) string {
	for _, echo := range []string{cmd + "\r\n", cmd + "\n"} {
		if strings.HasPrefix(out, echo) {
			return out[len(echo):]
		}
	}
	return out
}

func (r *Runner) record(ctx context.Context, text string, ok bool) {
	if r.auditor == nil {
		return
	}
	source, actor := domain.AuditActorFrom(ctx)
	entry := domain.CommandAuditEntry{
		Timestamp: r.clock.Now(),
		Source:    source,
		Actor:     actor,
		Command:   text,
		Success:   ok,
	}
	if err := r.auditor.RecordCommand(ctx, entry); err != nil {
		r.logger.Warn("command audit failed", "error", err)
	}
}

type commandPayload struct {
	Command string `json:"command"`
	Output  string `json:"output,omitempty"`
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
