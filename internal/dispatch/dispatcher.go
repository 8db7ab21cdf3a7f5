package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/config"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/jeedom-bridge/internal/metrics"
)

// defaultTimeout applies when jeedom.request_timeout is unset.
const defaultTimeout = 10 * time.Second

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EntityResolver finds the descriptor of a slug in the last
// classification result. Satisfied by *device.EntityIndex.
type EntityResolver interface {
	BySlug(slug string) (*device.EntityDescriptor, bool)
}

// Recorder persists dispatch outcomes. Satisfied by *audit.SQLiteRepository.
type Recorder interface {
	RecordDispatch(ctx context.Context, res *Result) error
}

// Sampler receives dispatch samples for the time series store.
// Satisfied by *influxdb.Client.
type Sampler interface {
	WriteDispatch(s influxdb.DispatchSample)
}

// Request asks for an action on an entity.
type Request struct {
	Slug string `json:"slug"`

	// Action is optional; it is inferred from the platform and value
	// when empty.
	Action string `json:"action,omitempty"`
	Value  any    `json:"value,omitempty"`

	// Source records where the request came from ("mqtt", "api").
	Source string `json:"source,omitempty"`
}

// Result describes one dispatch, successful or not.
type Result struct {
	CorrelationID string        `json:"correlation_id"`
	Slug          string        `json:"slug"`
	DeviceID      int           `json:"eqlogic_id,omitempty"`
	Action        string        `json:"action,omitempty"`
	CmdID         int           `json:"cmd_id,omitempty"`
	Value         string        `json:"value,omitempty"`
	Transport     string        `json:"transport,omitempty"`
	Fallback      bool          `json:"fallback"`
	Success       bool          `json:"success"`
	Response      string        `json:"response,omitempty"`
	Error         string        `json:"error,omitempty"`
	Source        string        `json:"source,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	At            time.Time     `json:"at"`
}

// Options holds configuration for creating a Dispatcher.
type Options struct {
	// Entities resolves slugs. Required.
	Entities EntityResolver

	// Config selects transports, URLs, API key and timeout. Required
	// unless both transports are supplied.
	Config *config.JeedomConfig

	// Primary and Fallback override the transports built from Config.
	Primary  Transport
	Fallback Transport

	// Client is the HTTP client shared by the built transports. A client
	// with Config's timeout and no retries is created when nil.
	Client *resty.Client

	Recorder Recorder
	Sampler  Sampler
	Metrics  *metrics.Metrics
	Logger   Logger
}

// Dispatcher executes entity actions on Jeedom.
//
// The primary transport is tried once; on any failure, and only when a
// fallback transport is configured, the fallback is tried exactly once.
// There is no queue and no per-entity ordering: each call is independent.
type Dispatcher struct {
	entities EntityResolver
	primary  Transport
	fallback Transport
	recorder Recorder
	sampler  Sampler
	metrics  *metrics.Metrics
	logger   Logger
	now      func() time.Time
}

// New creates a Dispatcher.
//
// With use_jsonrpc the primary transport is JSON-RPC and jsonrpc_fallback
// adds the HTTP API as fallback; otherwise the HTTP API is used alone.
func New(opts Options) (*Dispatcher, error) {
	if opts.Entities == nil {
		return nil, fmt.Errorf("entity resolver is required")
	}

	d := &Dispatcher{
		entities: opts.Entities,
		primary:  opts.Primary,
		fallback: opts.Fallback,
		recorder: opts.Recorder,
		sampler:  opts.Sampler,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}

	if d.primary == nil {
		if opts.Config == nil {
			return nil, fmt.Errorf("jeedom config is required")
		}
		client := opts.Client
		if client == nil {
			timeout := opts.Config.Timeout()
			if timeout <= 0 {
				timeout = defaultTimeout
			}
			client = resty.New().
				SetTimeout(timeout).
				SetHeader("Accept", "application/json")
		}
		httpT := NewHTTPTransport(client, opts.Config.HTTPAPIURL(), opts.Config.APIKey)
		if opts.Config.UseJSONRPC {
			d.primary = NewRPCTransport(client, opts.Config.RPCURL(), opts.Config.APIKey)
			if opts.Config.JSONRPCFallback && d.fallback == nil {
				d.fallback = httpT
			}
		} else {
			d.primary = httpT
			d.fallback = nil
		}
	}
	return d, nil
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// Dispatch executes req.
//
// A Result is always returned, including on failure, so callers can
// report it.
//
// Returns:
//   - *Result: Outcome with correlation id, transport and timing
//   - error: ErrUnresolvedEntity, ErrUnsupportedAction, ErrInvalidValue,
//     or ErrDispatch joined with the transport errors
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	start := d.now()
	res := &Result{
		CorrelationID: uuid.NewString(),
		Slug:          req.Slug,
		Action:        req.Action,
		Source:        req.Source,
		At:            start,
	}

	err := d.execute(ctx, req, res)
	res.Duration = d.now().Sub(start)
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	d.observe(ctx, res)
	return res, err
}

func (d *Dispatcher) execute(ctx context.Context, req Request, res *Result) error {
	desc, ok := d.entities.BySlug(req.Slug)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnresolvedEntity, req.Slug)
	}
	res.DeviceID = desc.DeviceID

	action, call, err := plan(desc, req)
	res.Action = string(action)
	if err != nil {
		return err
	}
	res.CmdID = call.CmdID
	res.Value = call.Value

	res.Transport = d.primary.Name()
	body, primaryErr := d.primary.Execute(ctx, call)
	if primaryErr == nil {
		res.Response = body
		return nil
	}
	if d.fallback == nil {
		d.logger.Error("dispatch failed",
			"slug", req.Slug,
			"cmd_id", call.CmdID,
			"transport", d.primary.Name(),
			"error", primaryErr,
		)
		return errors.Join(fmt.Errorf("%w: %s", ErrDispatch, req.Slug), primaryErr)
	}

	d.logger.Warn("primary transport failed, falling back",
		"slug", req.Slug,
		"cmd_id", call.CmdID,
		"from", d.primary.Name(),
		"to", d.fallback.Name(),
		"error", primaryErr,
	)
	res.Fallback = true
	res.Transport = d.fallback.Name()
	body, fallbackErr := d.fallback.Execute(ctx, call)
	if fallbackErr != nil {
		d.logger.Error("dispatch failed after fallback",
			"slug", req.Slug,
			"cmd_id", call.CmdID,
			"error", fallbackErr,
		)
		return errors.Join(fmt.Errorf("%w: %s", ErrDispatch, req.Slug), primaryErr, fallbackErr)
	}
	res.Response = body
	return nil
}

// observe feeds metrics, the time series and the audit log. Sink
// failures are logged and never change the dispatch outcome.
func (d *Dispatcher) observe(ctx context.Context, res *Result) {
	if res.Transport != "" {
		d.metrics.ObserveDispatch(res.Transport, res.Success, res.Fallback, res.Duration)
		if d.sampler != nil {
			d.sampler.WriteDispatch(influxdb.DispatchSample{
				EntitySlug: res.Slug,
				Action:     res.Action,
				Transport:  res.Transport,
				Success:    res.Success,
				Fallback:   res.Fallback,
				Duration:   res.Duration,
				At:         res.At,
			})
		}
	}
	if d.recorder != nil {
		if err := d.recorder.RecordDispatch(context.WithoutCancel(ctx), res); err != nil {
			d.logger.Warn("failed to record dispatch", "correlation_id", res.CorrelationID, "error", err)
		}
	}
}
