// Package influxdb records statement and script-run metrics in InfluxDB.
//
// A *Recorder is both a sqlexec.Observer and a script.Observer:
//
//	rec, err := influxdb.Open(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer rec.Close()
//
//	executor.SetObserver(rec)
//	runner.SetObserver(rec)
//
// Points:
//
//	sql_statements  tags mode, outcome  fields duration_ms, rows
//	script_runs     tags outcome        fields duration_ms, script
//
// Writes are batched according to batch_size and flush_interval and never
// block the caller. Close sends whatever is still batched.
package influxdb
