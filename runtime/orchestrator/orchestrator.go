// Package orchestrator runs the bounded decision loop that turns a user
// message into a final reply: expose the active capability snapshot to the
// model, execute the invocations it requests, fold the outcomes back into
// the conversation and repeat until the model answers in text or the
// iteration budget runs out.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"goa.design/capgate/runtime/capability"
	"goa.design/capgate/runtime/invoker"
	"goa.design/capgate/runtime/model"
	"goa.design/capgate/runtime/registry"
	"goa.design/capgate/runtime/telemetry"
)

type (
	// CapabilityInvoker executes a single capability call. Implementations
	// must fold failures into the record rather than returning them.
	CapabilityInvoker interface {
		Invoke(ctx context.Context, c capability.Capability, args map[string]any) invoker.Record
	}

	// SnapshotProvider supplies the capability snapshot a chat request pins
	// for its whole duration.
	SnapshotProvider interface {
		Active() *registry.Snapshot
	}

	// Orchestrator drives chat requests through the decision loop. Safe for
	// concurrent use; per-request state lives on the stack.
	Orchestrator struct {
		client    model.Client
		invoker   CapabilityInvoker
		snapshots SnapshotProvider

		modelName     string
		systemPrompt  string
		temperature   float32
		maxTokens     int
		maxIterations int

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
	}

	// Result is the outcome of one chat request.
	Result struct {
		// Response is the final assistant text.
		Response string

		// ToolsUsed lists the distinct capabilities invoked, in first-use
		// order. Unknown capability names requested by the model are not
		// counted.
		ToolsUsed []string

		// Iterations is the number of model calls made.
		Iterations int

		// ForcedStop reports that the iteration budget ran out before the
		// model produced a final answer.
		ForcedStop bool

		// SnapshotVersion identifies the capability snapshot the request ran
		// against.
		SnapshotVersion uint64

		// Usage aggregates token counts across all model calls.
		Usage model.TokenUsage
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)
)

// DefaultMaxIterations bounds the decision loop when not configured.
const DefaultMaxIterations = 10

// DefaultSystemPrompt instructs the model on how to use capabilities.
const DefaultSystemPrompt = "You are a gateway assistant. Use the available tools to satisfy the " +
	"user's request, then answer in plain text. Report tool failures honestly instead of inventing data."

// noCapabilitiesReply is returned without a model call when the snapshot is
// empty.
const noCapabilitiesReply = "No capabilities are currently available. Register a service before chatting."

// forcedStopNotice annotates a reply assembled after the iteration budget
// ran out.
const forcedStopNotice = "[stopped: capability iteration limit reached before a final answer]"

// WithModel sets the provider-specific model identifier.
func WithModel(name string) Option {
	return func(o *Orchestrator) { o.modelName = name }
}

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithMaxTokens caps completion length per model call.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithMaxIterations bounds the decision loop. Values below one fall back to
// the default.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New constructs an Orchestrator bound to a model client, an invoker and a
// snapshot provider.
func New(client model.Client, inv CapabilityInvoker, snapshots SnapshotProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:        client,
		invoker:       inv,
		snapshots:     snapshots,
		systemPrompt:  DefaultSystemPrompt,
		maxIterations: DefaultMaxIterations,
		logger:        telemetry.NewNoopLogger(),
		metrics:       telemetry.NewNoopMetrics(),
		tracer:        telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Chat runs the decision loop for one user message. The capability snapshot
// is pinned once at the start so mid-request registry mutations never change
// the tool set the model sees. A model failure aborts the request; capability
// failures do not, they are folded into the conversation as error results.
func (o *Orchestrator) Chat(ctx context.Context, userMessage string) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.chat")
	defer span.End()

	snap := o.snapshots.Active()
	res := Result{SnapshotVersion: snap.Version}

	if snap.Empty() {
		o.logger.Info(ctx, "chat with empty snapshot", "version", snap.Version)
		res.Response = noCapabilitiesReply
		return res, nil
	}

	tools := toolDefinitions(snap)
	conv := NewConversation(o.systemPrompt)
	conv.AddUser(userMessage)

	start := time.Now()
	defer func() {
		o.metrics.RecordTimer("capgate_chat_duration", time.Since(start))
		o.metrics.RecordGauge("capgate_chat_iterations", float64(res.Iterations))
	}()

	var lastText string
	for res.Iterations < o.maxIterations {
		res.Iterations++

		resp, err := o.client.Complete(ctx, model.Request{
			Model:       o.modelName,
			Messages:    conv.Messages(),
			Tools:       tools,
			Temperature: o.temperature,
			MaxTokens:   o.maxTokens,
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			o.metrics.IncCounter("capgate_chat_total", 1, "status", "model_error")
			return res, fmt.Errorf("model completion: %w", err)
		}
		res.Usage.InputTokens += resp.Usage.InputTokens
		res.Usage.OutputTokens += resp.Usage.OutputTokens
		res.Usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			res.Response = resp.Content
			o.metrics.IncCounter("capgate_chat_total", 1, "status", "ok")
			o.logger.Info(ctx, "chat completed",
				"iterations", res.Iterations, "tools_used", len(res.ToolsUsed))
			return res, nil
		}
		if resp.Content != "" {
			lastText = resp.Content
		}

		invocations := toInvocations(resp.ToolCalls)
		conv.AddAssistant(resp.Content, invocations)

		results := o.fanOut(ctx, snap, invocations, &res)
		conv.AddResults(results)
	}

	// Budget exhausted: surface the best partial text, clearly annotated.
	res.ForcedStop = true
	if lastText != "" {
		res.Response = lastText + "\n\n" + forcedStopNotice
	} else {
		res.Response = forcedStopNotice
	}
	o.metrics.IncCounter("capgate_chat_total", 1, "status", "forced_stop")
	o.logger.Warn(ctx, "chat stopped at iteration limit",
		"iterations", res.Iterations, "tools_used", len(res.ToolsUsed))
	return res, nil
}

// fanOut executes one round of invocations concurrently. Sibling calls are
// independent: each outcome lands at its request's index and a failure never
// cancels the others.
func (o *Orchestrator) fanOut(ctx context.Context, snap *registry.Snapshot, invocations []Invocation, res *Result) []InvocationResult {
	results := make([]InvocationResult, len(invocations))
	g, gctx := errgroup.WithContext(ctx)
	for i, inv := range invocations {
		g.Go(func() error {
			results[i] = o.invokeOne(gctx, snap, inv)
			return nil
		})
	}
	_ = g.Wait() // no goroutine returns an error

	seen := make(map[string]bool, len(res.ToolsUsed))
	for _, name := range res.ToolsUsed {
		seen[name] = true
	}
	for _, inv := range invocations {
		// Failed invocations of known capabilities still count as used;
		// names the snapshot cannot resolve do not.
		if _, ok := snap.Lookup(inv.Capability); !ok {
			continue
		}
		if !seen[inv.Capability] {
			seen[inv.Capability] = true
			res.ToolsUsed = append(res.ToolsUsed, inv.Capability)
		}
	}
	return results
}

func (o *Orchestrator) invokeOne(ctx context.Context, snap *registry.Snapshot, inv Invocation) InvocationResult {
	c, ok := snap.Lookup(inv.Capability)
	if !ok {
		o.logger.Warn(ctx, "model requested unknown capability", "capability", inv.Capability)
		return InvocationResult{
			ID:         inv.ID,
			Capability: inv.Capability,
			Result:     fmt.Sprintf("Request failed: unknown capability %q", inv.Capability),
			IsError:    true,
		}
	}
	rec := o.invoker.Invoke(ctx, c, inv.Arguments)
	return InvocationResult{
		ID:         inv.ID,
		Capability: inv.Capability,
		Result:     rec.Result,
		IsError:    rec.IsError,
	}
}

// toInvocations converts model tool calls, synthesizing correlation IDs for
// providers that omit them.
func toInvocations(calls []model.ToolCall) []Invocation {
	out := make([]Invocation, len(calls))
	for i, tc := range calls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out[i] = Invocation{ID: id, Capability: tc.Name, Arguments: tc.Payload}
	}
	return out
}

// toolDefinitions renders the snapshot capabilities as provider-neutral tool
// schemas.
func toolDefinitions(snap *registry.Snapshot) []*model.ToolDefinition {
	defs := make([]*model.ToolDefinition, 0, len(snap.Capabilities))
	for _, c := range snap.Capabilities {
		defs = append(defs, &model.ToolDefinition{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: c.InputSchema(),
		})
	}
	return defs
}
