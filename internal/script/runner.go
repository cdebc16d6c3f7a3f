package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// Default runner limits.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxSourceSize = 1 << 20 // 1 MiB
)

// Config controls per-run limits.
type Config struct {
	// Timeout bounds a single run, including waits for the database.
	Timeout time.Duration

	// MaxSourceSize is the largest accepted script in bytes.
	MaxSourceSize int
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Observer receives one callback per finished run.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	ObserveRun(name string, elapsed time.Duration, err error)
}

// Request is one script to run.
type Request struct {
	// Name labels the script in stack traces, logs and metrics.
	Name string

	// Source is the JavaScript program text.
	Source string

	// Caller is the principal returned by me(). Empty means anonymous.
	Caller []byte
}

// Result is the outcome of a successful run.
type Result struct {
	RunID    string          `json:"run_id"`
	Name     string          `json:"name"`
	Output   json.RawMessage `json:"output"`
	Duration time.Duration   `json:"-"`
}

// MarshalJSON adds duration_ms to the encoded result.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		DurationMS int64 `json:"duration_ms"`
	}{plain(r), r.Duration.Milliseconds()})
}

// UnmarshalJSON restores Duration from duration_ms.
func (r *Result) UnmarshalJSON(data []byte) error {
	type plain Result
	var aux struct {
		plain
		DurationMS int64 `json:"duration_ms"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Result(aux.plain)
	r.Duration = time.Duration(aux.DurationMS) * time.Millisecond
	return nil
}

// Runner executes scripts, each in a private runtime, against a shared
// executor.
//
// Thread Safety:
//   - Run is safe for concurrent use. Runtimes are never shared between
//     runs; the database session is serialised by the executor's gateway.
type Runner struct {
	exec Executor
	cfg  Config

	logger   Logger
	observer Observer
}

// NewRunner creates a Runner. Zero limits take their defaults.
func NewRunner(exec Executor, cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSourceSize <= 0 {
		cfg.MaxSourceSize = DefaultMaxSourceSize
	}
	return &Runner{exec: exec, cfg: cfg}
}

// SetLogger sets the logger for run summaries.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// SetObserver sets an observer notified after every run.
func (r *Runner) SetObserver(observer Observer) {
	r.observer = observer
}

// Run compiles and runs req.Source and renders its completion value as
// JSON. A completion value of undefined renders as null.
//
// Returns:
//   - *Result: Run ID, output and duration
//   - error: ErrSourceTooLarge, ErrCompile, ErrException, ErrTimeout,
//     ErrResult or ErrPanicked
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	name := req.Name
	if name == "" {
		name = "script"
	}
	runID := uuid.NewString()
	start := time.Now()

	output, err := r.run(ctx, name, req)
	elapsed := time.Since(start)

	if r.observer != nil {
		r.observer.ObserveRun(name, elapsed, err)
	}
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("script run failed",
				"run_id", runID,
				"name", name,
				"duration_ms", elapsed.Milliseconds(),
				"error", err,
			)
		}
		return nil, err
	}
	if r.logger != nil {
		r.logger.Debug("script run complete",
			"run_id", runID,
			"name", name,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return &Result{
		RunID:    runID,
		Name:     name,
		Output:   output,
		Duration: elapsed,
	}, nil
}

func (r *Runner) run(ctx context.Context, name string, req Request) (out json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrPanicked, p)
		}
	}()

	if len(req.Source) > r.cfg.MaxSourceSize {
		return nil, fmt.Errorf("%w: %d bytes, maximum is %d", ErrSourceTooLarge, len(req.Source), r.cfg.MaxSourceSize)
	}

	prog, err := goja.Compile(name, req.Source, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	rt := goja.New()
	h, err := install(ctx, rt, r.exec, req.Caller)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			rt.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	v, err := rt.RunProgram(prog)
	if err != nil {
		return nil, classify(err)
	}

	out, err = render(h.codec, v)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// classify wraps a runtime error in the matching sentinel.
func classify(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("%w: %w", ErrTimeout, cause)
		}
		return fmt.Errorf("%w: %v", ErrTimeout, interrupted.Value())
	}
	if errors.Is(err, ErrResult) {
		return err
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return fmt.Errorf("%w: %w", ErrException, exc)
	}
	return fmt.Errorf("%w: %w", ErrException, err)
}

// render serialises v with the runtime's own JSON.stringify so keyed rows
// keep their column order. Uint8Array values render as arrays of numbers.
//
// It runs after RunProgram has returned, so a panic escaping goja here is
// reported as ErrResult.
func render(c *codec, v goja.Value) (out json.RawMessage, err error) {
	if v == nil || goja.IsUndefined(v) {
		return json.RawMessage("null"), nil
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrResult, p)
		}
	}()

	rt := c.rt
	replacer := rt.ToValue(func(call goja.FunctionCall) goja.Value {
		val := call.Argument(1)
		obj, ok := val.(*goja.Object)
		if !ok || !rt.InstanceOf(obj, c.uint8Array) {
			return val
		}
		b, err := c.encodeObject(obj, 0)
		if err != nil {
			return val
		}
		items := make([]any, len(b.Bytes()))
		for i, x := range b.Bytes() {
			items[i] = int64(x)
		}
		return rt.NewArray(items...)
	})

	s, err := c.stringify(goja.Undefined(), v, replacer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResult, err)
	}
	if goja.IsUndefined(s) {
		// Functions and symbols stringify to undefined.
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(s.String()), nil
}
