// Package kiseki is the public API for tracing agent and LLM workflows.
//
// Applications construct one SDK per process and wrap their operations in
// spans:
//
//	sdk, err := kiseki.New(
//	    kiseki.WithVersion(version),
//	    kiseki.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer sdk.Close(ctx)
//
//	ctx, span := sdk.StartSpan(ctx, kiseki.SpanOptions{Name: "plan", SpanType: kiseki.SpanTypeLLM})
//	// ... do the work ...
//	sdk.EndSpan(ctx, span, kiseki.EndOptions{Outputs: out})
//
// Nesting is inferred from the context: a span started while another is open
// on the same ctx becomes its child. Concurrent sibling work gets an isolated
// view via Branch.
//
// The import graph enforces a strict no-cycle rule: kiseki (root) imports
// internal/*, but internal/* never imports kiseki (root). Public types (Span,
// SpanData, etc.) are standalone structs; conversion helpers live here
// because this is the only package that sees both sides of the boundary.
package kiseki

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kiseki/internal/api"
	"github.com/ashita-ai/kiseki/internal/auth"
	"github.com/ashita-ai/kiseki/internal/config"
	"github.com/ashita-ai/kiseki/internal/instance"
	"github.com/ashita-ai/kiseki/internal/retry"
	"github.com/ashita-ai/kiseki/internal/telemetry"
	"github.com/ashita-ai/kiseki/internal/trace"
	"github.com/ashita-ai/kiseki/internal/transport"
)

// SDK is the tracing client lifecycle. Construct with New(), release with
// Close(). SDK has no public fields — use New() options to configure it.
type SDK struct {
	cfg          config.Config
	transport    transport.Transport
	tracer       *trace.Tracer
	instances    *instance.Manager
	cancelQueue  context.CancelFunc // nil for transports without a worker
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the SDK. It loads configuration from the environment,
// applies option overrides, validates the result, and wires the selected
// transport. Span capture is usable immediately; the HTTP transport's queue
// worker is already running when New returns.
func New(opts ...Option) (*SDK, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Best-effort .env for local development; ignore if absent.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.apiKey != "" {
		cfg.APIKey = o.apiKey
	}
	if o.agentID != "" {
		cfg.AgentID = o.agentID
	}
	if o.identifier != "" {
		cfg.AgentIdentifier = o.identifier
	}
	if o.schemaName != "" {
		cfg.SchemaName = o.schemaName
	}
	if o.stdio {
		cfg.Transport = config.TransportStdio
	}

	// A caller-supplied exporter replaces the built-in transports, so the
	// HTTP credential requirements do not apply.
	if o.exporter == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, o.version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("kiseki: init telemetry: %w", err)
	}

	sdk := &SDK{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      o.version,
	}

	switch {
	case o.exporter != nil:
		sdk.transport = exporterTransport{e: o.exporter}

	case cfg.Transport == config.TransportStdio:
		sdk.transport = transport.NewStdio(o.writer, logger)

	default:
		var tokens *auth.TokenSource
		if cfg.AuthMode == config.AuthExchange {
			tokens = auth.NewExchange(cfg.BaseURL, cfg.AgentID, cfg.APIKey, o.httpClient)
		} else {
			tokens = auth.NewStatic(cfg.APIKey)
		}

		policy := retry.Default()
		policy.MaxRetries = cfg.MaxRetries
		policy.InitialDelay = cfg.InitialDelay
		policy.MaxDelay = cfg.MaxDelay

		requester := api.NewRequester(cfg.BaseURL, tokens, policy, cfg.RequestTimeout, o.httpClient, logger)

		httpTransport := transport.NewHTTP(requester, transport.HTTPConfig{
			AgentID:          cfg.AgentID,
			AgentIdentifier:  cfg.AgentIdentifier,
			AgentName:        cfg.AgentName,
			AgentDescription: cfg.AgentDescription,
			SchemaName:       cfg.SchemaName,
			QueueMaxRetries:  cfg.QueueMaxRetries,
			QueueRetryDelay:  cfg.QueueRetryDelay,
			QueueMaxCapacity: cfg.QueueMaxCapacity,
		}, logger)

		queueCtx, cancel := context.WithCancel(context.Background())
		httpTransport.Start(queueCtx)
		sdk.cancelQueue = cancel
		sdk.transport = httpTransport
	}

	sdk.tracer = trace.New(sdk.transport, logger)
	sdk.instances = instance.New(sdk.transport, logger)

	logger.Debug("kiseki: sdk initialised", "transport", cfg.Transport, "version", o.version)
	return sdk, nil
}

// StartSpan opens a span parented to whatever span is currently open on ctx.
// The returned context carries the new span; pass it to nested work so
// children attach correctly. End the span with EndSpan — once, on every path.
func (s *SDK) StartSpan(ctx context.Context, opts SpanOptions) (context.Context, *Span) {
	ctx, span := s.tracer.StartSpan(ctx, trace.StartOptions{
		Name:     opts.Name,
		SpanType: opts.SpanType,
		Inputs:   opts.Inputs,
		Metadata: opts.Metadata,
		Tags:     opts.Tags,
	})
	return ctx, &Span{s: span}
}

// EndSpan finishes a span with the given results. A second EndSpan on the
// same span is ignored. A nil span is ignored.
func (s *SDK) EndSpan(ctx context.Context, span *Span, opts EndOptions) {
	if span == nil {
		return
	}
	s.tracer.EndSpan(ctx, span.s, trace.EndOptions{
		Outputs:    opts.Outputs,
		TokenUsage: toInternalUsage(opts.TokenUsage),
		Error:      toInternalError(opts.Error),
	})
}

// Run wraps fn in a span: started before fn, finished when fn returns, with
// an error status when fn fails or panics. Panics propagate after the span
// closes.
func (s *SDK) Run(ctx context.Context, opts SpanOptions, fn func(ctx context.Context) error) error {
	return s.tracer.Run(ctx, trace.StartOptions{
		Name:     opts.Name,
		SpanType: opts.SpanType,
		Inputs:   opts.Inputs,
		Metadata: opts.Metadata,
		Tags:     opts.Tags,
	}, fn)
}

// Branch returns a context whose span stack is an independent copy of ctx's.
// Hand the result to each concurrent goroutine so sibling spans parent to the
// span open at the branch point rather than to each other.
func Branch(ctx context.Context) context.Context {
	return trace.Branch(ctx)
}

// RegisterSchema declares the span payload schema for this agent version.
// Registering a schema different from the previous one requires the next
// StartInstance to carry a new identifier.
func (s *SDK) RegisterSchema(schema any) {
	s.instances.RegisterSchema(schema)
}

// StartInstance starts an agent run. Non-zero fields in opts override the
// configured agent identity. Duplicate starts without an intervening
// FinishInstance are dropped with a warning.
func (s *SDK) StartInstance(opts InstanceOptions) {
	s.instances.StartInstance(toInternalInstanceOptions(opts))
}

// FinishInstance finishes the current agent run.
func (s *SDK) FinishInstance() {
	s.instances.FinishInstance()
}

// Close releases the SDK: finishes an open instance, drains the transport
// within ctx's deadline, and flushes self-telemetry. Spans started after
// Close are dropped by the transport.
func (s *SDK) Close(ctx context.Context) error {
	if s.instances.Started() {
		s.instances.FinishInstance()
	}

	// Without a caller deadline, bound the drain by the configured window.
	if _, ok := ctx.Deadline(); !ok && s.cfg.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DrainTimeout)
		defer cancel()
	}

	err := s.transport.Close(ctx)
	if s.cancelQueue != nil {
		s.cancelQueue()
	}

	if s.otelShutdown != nil {
		if oerr := s.otelShutdown(ctx); oerr != nil && err == nil {
			err = fmt.Errorf("kiseki: telemetry shutdown: %w", oerr)
		}
	}
	return err
}
