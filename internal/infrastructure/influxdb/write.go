package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementStatements = "sql_statements"
	MeasurementRuns       = "script_runs"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// ObserveStatement records one executor operation as a sql_statements
// point. It satisfies sqlexec.Observer.
func (r *Recorder) ObserveStatement(mode string, elapsed time.Duration, rows int, err error) {
	if !r.accepting() {
		return
	}
	r.writer.WritePoint(statementPoint(mode, elapsed, rows, err, time.Now()))
}

// ObserveRun records one finished script as a script_runs point. It
// satisfies script.Observer.
func (r *Recorder) ObserveRun(name string, elapsed time.Duration, err error) {
	if !r.accepting() {
		return
	}
	r.writer.WritePoint(runPoint(name, elapsed, err, time.Now()))
}

func statementPoint(mode string, elapsed time.Duration, rows int, err error, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementStatements,
		map[string]string{
			"mode":    mode,
			"outcome": outcome(err),
		},
		map[string]interface{}{
			"duration_ms": millis(elapsed),
			"rows":        int64(rows),
		},
		ts,
	)
}

// runPoint keeps the script name as a field. Names come from callers, so
// as a tag they would open a new series per name.
func runPoint(name string, elapsed time.Duration, err error, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementRuns,
		map[string]string{"outcome": outcome(err)},
		map[string]interface{}{
			"duration_ms": millis(elapsed),
			"script":      name,
		},
		ts,
	)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func outcome(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeOK
}
