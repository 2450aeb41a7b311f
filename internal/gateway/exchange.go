package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bundle-platform/internal/metrics"
)

// Exchange describes one outbound attempt for the audit trail.
// Secrets are already redacted.
type Exchange struct {
	Endpoint        string
	Method          string
	RequestPayload  string
	RequestHeaders  string
	ResponsePayload string
	StatusCode      int
	Latency         time.Duration
	Err             error
}

// ErrorMessage returns the normalized error text or "".
func (x Exchange) ErrorMessage() string {
	if x.Err == nil {
		return ""
	}
	return x.Err.Error()
}

const maxResponseBytes = 1 << 20

var secretHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
}

const redacted = "[REDACTED]"

func redactHeaders(h map[string]string) string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if secretHeaders[strings.ToLower(k)] {
			v = redacted
		}
		out[k] = v
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// envelope is the subset every provider response shares for error messages.
type envelope struct {
	Message string `json:"message"`
}

type roundTrip struct {
	op      string
	method  string
	url     string
	headers map[string]string
	body    any
	timeout time.Duration
}

// transport performs one bounded JSON request. No retries.
type transport struct {
	client *http.Client
	now    func() time.Time
}

func newTransport(client *http.Client) transport {
	if client == nil {
		client = &http.Client{}
	}
	return transport{client: client, now: time.Now}
}

// do executes rt and decodes a 2xx body into out. The returned Exchange is
// always populated, whatever the outcome.
func (t transport) do(ctx context.Context, rt roundTrip, out any) (x Exchange, gerr *Error) {
	x = Exchange{Endpoint: rt.url, Method: rt.method, RequestHeaders: redactHeaders(rt.headers)}
	start := t.now()
	defer func() {
		x.Latency = t.now().Sub(start)
		outcome := "ok"
		if gerr != nil {
			outcome = string(gerr.Kind)
			x.Err = gerr
			if x.StatusCode == 0 {
				x.StatusCode = equivalentStatus(gerr.Kind)
			}
		}
		metrics.GatewayCallDuration.WithLabelValues(rt.op, outcome).Observe(x.Latency.Seconds())
	}()

	var body io.Reader
	if rt.body != nil {
		b, err := json.Marshal(rt.body)
		if err != nil {
			return x, &Error{Kind: KindTransport, Op: rt.op, Message: "encode request", Err: err}
		}
		x.RequestPayload = string(b)
		body = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, rt.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, rt.method, rt.url, body)
	if err != nil {
		return x, &Error{Kind: KindTransport, Op: rt.op, Message: "build request", Err: err}
	}
	for k, v := range rt.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return x, classifyTransport(rt.op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	x.StatusCode = resp.StatusCode
	x.ResponsePayload = string(raw)
	if err != nil {
		return x, classifyTransport(rt.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		_ = json.Unmarshal(raw, &env)
		return x, classifyStatus(rt.op, resp.StatusCode, env.Message, x.ResponsePayload)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return x, &Error{Kind: KindTransport, Op: rt.op, Message: fmt.Sprintf("decode response: %v", err), StatusCode: resp.StatusCode, Raw: x.ResponsePayload, Err: err}
		}
	}
	return x, nil
}

func equivalentStatus(k Kind) int {
	switch k {
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}
