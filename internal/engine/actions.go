package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/calafate/loom/internal/mail"
)

// Reserved execution-context keys seeded by the executor. Handlers read them
// to tie side effects back to the run.
const (
	ctxKeyExecutionID = "execution_id"
	ctxKeyCurrentNode = "current_node"
)

// maxHTTPResponseBytes bounds how much of a response body is captured into
// the execution context.
const maxHTTPResponseBytes = 1 << 20

// BuiltinDeps carries the collaborators the built-in actions need.
type BuiltinDeps struct {
	Mailer     mail.Sender  // nil disables the email action's delivery
	HTTPClient *http.Client // nil uses a 30 s default client
	Sleep      func(ctx context.Context, d time.Duration)
}

// RegisterBuiltins installs the built-in action handlers.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}

	handlers := map[string]Handler{
		"delay":                 delayAction(deps.Sleep),
		"notify":                notifyAction,
		"http_request":          httpRequestAction(deps.HTTPClient),
		"email":                 emailAction(deps.Mailer),
		"check_ticket_assigned": checkTicketAssignedAction,
	}
	for name, h := range handlers {
		if err := r.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// delayAction suspends for params.seconds (default 1), honoring cancellation.
func delayAction(sleep func(context.Context, time.Duration)) Handler {
	return func(ctx context.Context, params map[string]any, _ map[string]any) error {
		seconds := numberParam(params, "seconds", 1)
		sleep(ctx, time.Duration(seconds*float64(time.Second)))
		return ctx.Err()
	}
}

// notifyAction is a no-op that yields once.
func notifyAction(context.Context, map[string]any, map[string]any) error {
	runtime.Gosched()
	return nil
}

// httpRequestAction performs an outbound request and records the response in
// the execution context. A non-2xx status is not an error; only an empty URL
// or an unsupported method fails the action.
func httpRequestAction(client *http.Client) Handler {
	allowed := map[string]bool{
		http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
		http.MethodPatch: true, http.MethodDelete: true,
	}

	return func(ctx context.Context, params map[string]any, ec map[string]any) error {
		url := stringParam(params, "url", "")
		if url == "" {
			return fmt.Errorf("http_request: url is empty")
		}
		method := strings.ToUpper(stringParam(params, "method", http.MethodGet))
		if !allowed[method] {
			return fmt.Errorf("http_request: unsupported method %q", method)
		}

		var body io.Reader
		if raw := stringParam(params, "body", ""); raw != "" {
			body = strings.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("http_request: %w", err)
		}
		if headers, ok := params["headers"].(map[string]any); ok {
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprintf("%v", v))
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("http_request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
		if err != nil {
			return fmt.Errorf("http_request: read response: %w", err)
		}

		respHeaders := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			respHeaders[k] = resp.Header.Get(k)
		}
		ec["last_http_status"] = resp.StatusCode
		ec["last_http_response"] = string(payload)
		ec["last_http_headers"] = respHeaders
		return nil
	}
}

// emailAction renders the body (explicit or via named template against the
// execution context) and delegates delivery to the mail collaborator.
func emailAction(mailer mail.Sender) Handler {
	return func(ctx context.Context, params map[string]any, ec map[string]any) error {
		to := stringParam(params, "to", "")
		if to == "" {
			return fmt.Errorf("email: recipient is empty")
		}
		subject := stringParam(params, "subject", "")

		body := stringParam(params, "body", "")
		if body == "" {
			if tmpl := stringParam(params, "template", ""); tmpl != "" {
				body = mail.RenderTemplate(tmpl, ec)
			}
		}

		msg := mail.Message{
			To:      to,
			Subject: subject,
			Body:    body,
			StepID:  stringParam(ec, ctxKeyCurrentNode, ""),
		}
		if id, ok := ec[ctxKeyExecutionID].(int64); ok {
			msg.ExecutionID = id
		}

		var result mail.Result
		if mailer != nil {
			result = mailer.Send(ctx, msg)
		} else {
			result = mail.Result{To: to, Subject: subject, Error: "mail collaborator unconfigured"}
		}

		status := "sent"
		if !result.Success {
			status = "failed"
		}
		ec["last_email_id"] = result.EmailID
		ec["last_email_status"] = status
		ec["last_email_to"] = result.To
		ec["last_email_subject"] = result.Subject

		if !result.Success {
			return fmt.Errorf("email: delivery failed: %s", result.Error)
		}
		return nil
	}
}

// checkTicketAssignedAction mirrors ticket_assigned into check_result so
// conditional edges can branch on it.
func checkTicketAssignedAction(_ context.Context, _ map[string]any, ec map[string]any) error {
	assigned, ok := ec["ticket_assigned"]
	if !ok {
		assigned = false
	}
	ec["check_result"] = assigned
	return nil
}

func stringParam(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func numberParam(m map[string]any, key string, fallback float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
