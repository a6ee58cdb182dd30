package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/servermanager/pkg/future"
	"github.com/vango-dev/servermanager/pkg/metrics"
)

const tracerName = "servermanager"

// Listener handles one action. It runs on its own goroutine and must finish
// the request with Respond, RespondStatus or Terminate.
type Listener func(*Request)

// Call describes one action as decoded by a transport.
type Call struct {
	Protocol    string
	SessionID   string
	Action      Action
	RemoteAddr  string
	InputLength int

	// Buffer is consulted before the listener and receives Request.Buffer
	// seeds. Nil disables the short-circuit.
	Buffer *Buffer

	// OnTerminate aborts the transport when the listener calls Terminate.
	OnTerminate func()
}

// Outcome is reported to the observer when an action finishes.
type Outcome struct {
	Protocol    string
	SessionID   string
	RequestID   string
	Action      string
	RemoteAddr  string
	Parameters  json.RawMessage
	InputLength int

	// Status is the response status, or one of "buffered", "terminated",
	// "panic".
	Status   string
	Duration time.Duration
	Err      error
}

// Dispatcher routes decoded actions to the registered listener.
type Dispatcher struct {
	listener atomic.Pointer[Listener]
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *metrics.Metrics
	observe  func(Outcome)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithTracerProvider sets the tracer provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		d.tracer = tp.Tracer(tracerName)
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithObserver registers fn to be called once per finished action.
func WithObserver(fn func(Outcome)) Option {
	return func(d *Dispatcher) {
		d.observe = fn
	}
}

// New creates a Dispatcher with the default listener installed.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	d.SetListener(nil)
	return d
}

// SetListener replaces the listener. Nil restores the default listener,
// which answers every action with an empty object.
func (d *Dispatcher) SetListener(fn Listener) {
	if fn == nil {
		fn = d.defaultListener
	}
	d.listener.Store(&fn)
}

func (d *Dispatcher) defaultListener(r *Request) {
	d.logger.Debug("default listener", "action", r.Action(), "session_id", r.SessionID())
	r.Respond(nil)
}

// Dispatch runs one action. A buffered response with equal parameters is
// returned immediately; otherwise the listener is invoked asynchronously.
// The future resolves at most once and stays pending if the listener
// panics or terminates.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) *future.Future[Response] {
	start := time.Now()

	if call.Buffer != nil {
		if data, ok := call.Buffer.Take(call.Action.Action, call.Action.Parameters); ok {
			d.finish(call, start, "buffered", nil)
			return future.Resolved(Response{Status: StatusOK, Data: data})
		}
	}

	spanCtx, span := d.tracer.Start(ctx, "servermanager.action",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("servermanager.protocol", call.Protocol),
			attribute.String("servermanager.action", call.Action.Action),
			attribute.String("servermanager.request_id", call.Action.RequestID),
			attribute.String("servermanager.session_id", call.SessionID),
		),
	)

	req := &Request{
		ctx:  spanCtx,
		call: call,
		fut:  future.New[Response](),
	}
	req.done = func(status string, err error) {
		span.SetAttributes(attribute.String("servermanager.status", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if status == string(StatusError) {
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		d.finish(call, start, status, err)
	}

	fn := *d.listener.Load()
	go d.invoke(req, fn)

	return req.fut
}

// invoke runs the listener with panic recovery.
func (d *Dispatcher) invoke(req *Request, fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			d.logger.Error("listener panic",
				"panic", r,
				"action", req.Action(),
				"request_id", req.RequestID(),
				"session_id", req.SessionID(),
				"stack", string(stack))

			req.abandon(&ListenerError{
				SessionID: req.SessionID(),
				RequestID: req.RequestID(),
				Action:    req.Action(),
				Panic:     r,
				Stack:     stack,
			})
		}
	}()

	fn(req)
}

func (d *Dispatcher) finish(call Call, start time.Time, status string, err error) {
	elapsed := time.Since(start)
	d.metrics.RecordAction(call.Protocol, status, elapsed)

	if d.observe == nil {
		return
	}
	d.observe(Outcome{
		Protocol:    call.Protocol,
		SessionID:   call.SessionID,
		RequestID:   call.Action.RequestID,
		Action:      call.Action.Action,
		RemoteAddr:  call.RemoteAddr,
		Parameters:  call.Action.Parameters,
		InputLength: call.InputLength,
		Status:      status,
		Duration:    elapsed,
		Err:         err,
	})
}
