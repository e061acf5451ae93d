// Package invoker executes capability invocations against live HTTP
// endpoints. Invocation outcomes are always folded into a textual result
// suitable for a model conversation: transport failures and error statuses
// become error-flagged result strings, never Go errors, so one failed sibling
// cannot abort a decision round.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/codes"

	"goa.design/capgate/runtime/capability"
	"goa.design/capgate/runtime/telemetry"
)

type (
	// Invoker performs HTTP calls described by capability descriptors.
	Invoker struct {
		client   *http.Client
		timeout  time.Duration
		validate bool
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
	}

	// Record captures one completed invocation: the capability invoked, the
	// arguments supplied by the model and the folded textual outcome.
	Record struct {
		// Capability is the name of the invoked capability.
		Capability string

		// Arguments are the arguments the invocation was made with.
		Arguments map[string]any

		// Result is the textual outcome fed back to the model. Successful
		// calls carry the raw response body; failures carry a stable
		// "Error: HTTP <status> - <body>" or "Request failed: <message>"
		// string.
		Result string

		// IsError reports whether the invocation failed.
		IsError bool

		// Latency is the wall-clock duration of the call.
		Latency time.Duration
	}

	// Option configures an Invoker.
	Option func(*Invoker)
)

// DefaultTimeout bounds a single invocation when no per-call deadline is
// tighter.
const DefaultTimeout = 30 * time.Second

// WithHTTPClient sets the HTTP client used for invocations.
func WithHTTPClient(c *http.Client) Option {
	return func(inv *Invoker) { inv.client = c }
}

// WithTimeout sets the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(inv *Invoker) { inv.timeout = d }
}

// WithoutValidation disables pre-flight argument validation against the
// capability input schema.
func WithoutValidation() Option {
	return func(inv *Invoker) { inv.validate = false }
}

// WithLogger sets the structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(inv *Invoker) { inv.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(inv *Invoker) { inv.metrics = m }
}

// WithTracer sets the tracer used to create per-invocation spans.
func WithTracer(t telemetry.Tracer) Option {
	return func(inv *Invoker) { inv.tracer = t }
}

// New constructs an Invoker with the given options. Defaults: shared
// http.DefaultClient, DefaultTimeout, validation enabled, no-op telemetry.
func New(opts ...Option) *Invoker {
	inv := &Invoker{
		client:   http.DefaultClient,
		timeout:  DefaultTimeout,
		validate: true,
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		tracer:   telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke executes c with the given arguments and folds the outcome into a
// Record. The returned record is always usable as a conversation result; the
// error conditions are encoded in Record.Result and Record.IsError.
func (inv *Invoker) Invoke(ctx context.Context, c capability.Capability, args map[string]any) Record {
	ctx, span := inv.tracer.Start(ctx, "capability.invoke")
	defer span.End()
	span.AddEvent("invoke", "capability", c.Name, "method", c.Method)

	start := time.Now()
	rec, call := inv.invoke(ctx, c, args)
	rec.Latency = time.Since(start)

	status := "ok"
	if rec.IsError {
		status = "error"
		span.SetStatus(codes.Error, rec.Result)
		inv.logger.Warn(ctx, "capability invocation failed",
			"capability", c.Name, "method", c.Method, "url", call.url,
			"http_status", call.status, "body", bodyPreview(rec.Result),
			"latency_ms", rec.Latency.Milliseconds())
	} else {
		span.SetStatus(codes.Ok, "")
		inv.logger.Debug(ctx, "capability invoked",
			"capability", c.Name, "method", c.Method, "url", call.url,
			"http_status", call.status, "body", bodyPreview(rec.Result),
			"latency_ms", rec.Latency.Milliseconds())
	}
	inv.metrics.IncCounter("capgate_invocations_total", 1, "capability", c.Name, "status", status)
	inv.metrics.RecordTimer("capgate_invocation_duration", rec.Latency, "capability", c.Name)
	return rec
}

// callDetail carries the resolved request target and response status for
// telemetry. The status stays zero when the call never reached the wire.
type callDetail struct {
	url    string
	status int
}

func (inv *Invoker) invoke(ctx context.Context, c capability.Capability, args map[string]any) (Record, callDetail) {
	rec := Record{Capability: c.Name, Arguments: args}
	call := callDetail{url: c.URLTemplate}

	if inv.validate {
		if err := validateArguments(c, args); err != nil {
			rec.Result = requestFailed(err)
			rec.IsError = true
			return rec, call
		}
	}

	target, err := buildURL(c, args)
	if err != nil {
		rec.Result = requestFailed(err)
		rec.IsError = true
		return rec, call
	}
	call.url = target

	var body io.Reader
	if c.Body != nil && methodAllowsBody(c.Method) {
		if v, ok := args[c.Body.Name]; ok && v != nil {
			encoded, err := json.Marshal(v)
			if err != nil {
				rec.Result = requestFailed(fmt.Errorf("encode request body: %v", err))
				rec.IsError = true
				return rec, call
			}
			body = bytes.NewReader(encoded)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, c.Method, target, body)
	if err != nil {
		rec.Result = requestFailed(err)
		rec.IsError = true
		return rec, call
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := inv.client.Do(req)
	if err != nil {
		rec.Result = requestFailed(err)
		rec.IsError = true
		return rec, call
	}
	defer resp.Body.Close()
	call.status = resp.StatusCode

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		rec.Result = requestFailed(err)
		rec.IsError = true
		return rec, call
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rec.Result = fmt.Sprintf("Error: HTTP %d - %s", resp.StatusCode, payload)
		rec.IsError = true
		return rec, call
	}
	rec.Result = string(payload)
	return rec, call
}

// buildURL substitutes path placeholders and appends query parameters.
// Arguments bound to query parameters that are absent or nil are omitted.
func buildURL(c capability.Capability, args map[string]any) (string, error) {
	target := c.URLTemplate
	for _, p := range c.PathParams {
		v, ok := args[p.Name]
		if !ok || v == nil {
			return "", fmt.Errorf("missing path parameter %q", p.Name)
		}
		target = strings.ReplaceAll(target, "{"+p.Name+"}", url.PathEscape(argString(v)))
	}

	q := url.Values{}
	for _, p := range c.QueryParams {
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		q.Set(p.Name, argString(v))
	}
	if len(q) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + q.Encode()
	}
	return target, nil
}

// argString renders an argument value for URL use. Scalars format directly;
// composites serialize as JSON so array and object query values survive the
// round trip.
func argString(v any) string {
	switch v.(type) {
	case string, bool, int, int64, float32, float64, json.Number:
		return fmt.Sprint(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

// validateArguments checks args against the capability input schema before
// any network traffic happens. A failed validation surfaces to the model as
// a request failure so it can correct the arguments on the next turn.
func validateArguments(c capability.Capability, args map[string]any) error {
	// The schema compiler wants decoded JSON shapes, so the schema goes
	// through the same round trip as the arguments.
	encoded, err := json.Marshal(c.InputSchema())
	if err != nil {
		return fmt.Errorf("encode schema: %v", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(encoded, &schemaDoc); err != nil {
		return fmt.Errorf("decode schema: %v", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := schema.Validate(normalize(args)); err != nil {
		return fmt.Errorf("invalid arguments: %v", err)
	}
	return nil
}

// normalize round-trips args through JSON so validation sees the same value
// shapes a decoded request would have (e.g. numbers as float64).
func normalize(args map[string]any) any {
	encoded, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(encoded, &v); err != nil {
		return args
	}
	return v
}

func methodAllowsBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	default:
		return false
	}
}

func requestFailed(err error) string {
	return fmt.Sprintf("Request failed: %v", err)
}

// previewLimit bounds the response body excerpt included in logs.
const previewLimit = 256

func bodyPreview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "..."
}
