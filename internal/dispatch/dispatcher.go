package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/sqlbridge/internal/auth"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/database"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sqlbridge/internal/script"
)

// Error codes carried in Response.Error. They match the HTTP API codes.
const (
	CodeUnauthorized = "unauthorised"
	CodeValidation   = "validation_error"
	CodeTooLarge     = "too_large"
	CodeCompile      = "compile_error"
	CodeScript       = "script_error"
	CodeTimeout      = "timeout"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal_error"
)

// Runner runs one script.
type Runner interface {
	Run(ctx context.Context, req script.Request) (*script.Result, error)
}

// EventPublisher publishes run events. Implemented by *mqtt.Client.
type EventPublisher interface {
	PublishEvent(kind string, payload []byte) error
}

// Bus is the request-serving side of *mqtt.Client.
type Bus interface {
	ServeRequests(handler mqtt.RequestHandler) error
	StopRequests() error
	PublishResponse(id string, payload []byte) error
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config controls the Dispatcher.
type Config struct {
	// Verifier resolves the request token to the caller principal.
	Verifier auth.Verifier
}

// Request is the JSON form of a request payload.
type Request struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Token  string `json:"token,omitempty"`
}

// Response is published to the response topic of every request.
type Response struct {
	RequestID string         `json:"request_id"`
	OK        bool           `json:"ok"`
	Result    *script.Result `json:"result,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed request.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Dispatcher serves the request topics and answers each request.
//
// Thread Safety:
//   - Requests are handled on the MQTT client's goroutines and may run
//     concurrently; the runner serialises database access.
type Dispatcher struct {
	bus    Bus
	runner Runner
	cfg    Config
	logger Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New creates a Dispatcher. Call Start to begin receiving requests.
func New(bus Bus, runner Runner, cfg Config) *Dispatcher {
	return &Dispatcher{bus: bus, runner: runner, cfg: cfg}
}

// SetLogger sets the logger for request handling.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Start begins serving requests. Runs started by requests are
// cancelled when ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.running = true
	d.mu.Unlock()

	if err := d.bus.ServeRequests(d.handleMessage); err != nil {
		d.mu.Lock()
		d.running = false
		d.cancel()
		d.mu.Unlock()
		return fmt.Errorf("subscribing to requests: %w", err)
	}

	if d.logger != nil {
		d.logger.Info("dispatch started")
	}
	return nil
}

// Stop unsubscribes, cancels in-flight runs and waits for their responses.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	err := d.bus.StopRequests()
	d.wg.Wait()
	if err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		return fmt.Errorf("unsubscribing from requests: %w", err)
	}
	return nil
}

// handleMessage answers one request message.
func (d *Dispatcher) handleMessage(id string, payload []byte) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotStarted
	}
	ctx := d.ctx
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	resp := d.handle(ctx, id, payload)
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response %s: %w", id, err)
	}
	return d.bus.PublishResponse(id, data)
}

// handle decodes, authenticates and runs one request.
func (d *Dispatcher) handle(ctx context.Context, id string, payload []byte) Response {
	resp := Response{RequestID: id}

	req, err := decodeRequest(payload)
	if err == nil {
		var principal auth.Principal
		principal, err = d.cfg.Verifier.Principal(req.Token)
		if err == nil {
			resp.Result, err = d.run(ctx, script.Request{
				Name:   req.Name,
				Source: req.Source,
				Caller: principal.Bytes(),
			})
		}
	}

	if err != nil {
		if d.logger != nil {
			d.logger.Debug("request failed", "request_id", id, "error", err)
		}
		resp.Error = &ResponseError{Code: errorCode(err), Message: err.Error()}
		return resp
	}
	resp.OK = true
	return resp
}

// run calls the runner, turning a panic into script.ErrPanicked so the
// request still gets a response.
func (d *Dispatcher) run(ctx context.Context, req script.Request) (res *script.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			if d.logger != nil {
				d.logger.Warn("request run panicked", "name", req.Name, "panic", p)
			}
			res, err = nil, fmt.Errorf("%w: %v", script.ErrPanicked, p)
		}
	}()
	return d.runner.Run(ctx, req)
}

// decodeRequest accepts a JSON Request or raw script source.
func decodeRequest(payload []byte) (Request, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Request{}, ErrEmptySource
	}

	if trimmed[0] == '{' {
		var req Request
		if err := json.Unmarshal(trimmed, &req); err == nil {
			if len(bytes.TrimSpace([]byte(req.Source))) == 0 {
				return Request{}, ErrEmptySource
			}
			return req, nil
		}
		// Not JSON, so a script that starts with a block.
	}
	return Request{Source: string(payload)}, nil
}

// errorCode maps a request failure to its response code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing), errors.Is(err, auth.ErrTokenInvalid):
		return CodeUnauthorized
	case errors.Is(err, ErrEmptySource):
		return CodeValidation
	case errors.Is(err, script.ErrSourceTooLarge):
		return CodeTooLarge
	case errors.Is(err, script.ErrCompile):
		return CodeCompile
	case errors.Is(err, script.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, database.ErrLockPoisoned), errors.Is(err, database.ErrGatewayClosed):
		return CodeUnavailable
	case errors.Is(err, script.ErrException), errors.Is(err, script.ErrResult):
		return CodeScript
	default:
		return CodeInternal
	}
}
