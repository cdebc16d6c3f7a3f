// sqlbridge runs JavaScript programs against a shared SQLite database.
//
// Usage:
//
//	sqlbridge                       serve the HTTP API, console and MQTT dispatch
//	sqlbridge run [-as SUBJECT] FILE...
//	                                run scripts once and print one JSON result per line
//	sqlbridge remote [-token T] [-timeout D] FILE...
//	                                run scripts on a serving bridge over MQTT
//	sqlbridge token [-ttl D] SUBJECT
//	                                mint a bearer token for SUBJECT
//	sqlbridge version
//
// The configuration file is read from SQLBRIDGE_CONFIG, or
// configs/config.yaml when unset.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/sqlbridge/internal/api"
	"github.com/nerrad567/sqlbridge/internal/auth"
	"github.com/nerrad567/sqlbridge/internal/dispatch"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/config"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/database"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/logging"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sqlbridge/internal/script"
	"github.com/nerrad567/sqlbridge/internal/sqlexec"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute dispatches to the subcommand named by args[0]. No arguments
// means serve.
func execute(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return run(ctx)
	}

	switch args[0] {
	case "serve":
		return run(ctx)
	case "run":
		return runScripts(ctx, args[1:], stdout)
	case "remote":
		return remoteRun(ctx, args[1:], stdout)
	case "token":
		return mintToken(args[1:], stdout)
	case "version":
		fmt.Fprintf(stdout, "sqlbridge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want serve, run, remote, token or version)", args[0])
	}
}

// run serves until ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting sqlbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	st, err := openStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Connect to InfluxDB (optional)
	var recorder *influxdb.Recorder
	if cfg.InfluxDB.Enabled {
		recorder, err = influxdb.Open(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		recorder.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		st.exec.SetObserver(recorder)
		st.runner.SetObserver(recorder)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT (optional) and start remote dispatch
	var runner api.ScriptRunner = st.runner
	var mqttClient *mqtt.Client
	var mqttReporter api.BrokerReporter
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		mqttReporter = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		announcer := dispatch.NewAnnouncer(st.runner, mqttClient)
		announcer.SetLogger(log)
		runner = announcer

		dispatcher := dispatch.New(mqttClient, announcer, dispatch.Config{
			Verifier: verifier(cfg),
		})
		dispatcher.SetLogger(log.Component("dispatch"))
		if startErr := dispatcher.Start(ctx); startErr != nil {
			return fmt.Errorf("starting dispatch: %w", startErr)
		}
		defer func() {
			log.Info("stopping dispatch")
			if stopErr := dispatcher.Stop(); stopErr != nil {
				log.Error("error stopping dispatch", "error", stopErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Runner:   runner,
		Health:   st.gw,
		DB:       st.db,
		MQTT:     mqttReporter,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server listening", "addr", srv.Addr())

	if err := healthCheck(ctx, st.gw, mqttClient, recorder); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, dispatch, MQTT,
	// InfluxDB, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SQLBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SQLBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// verifier builds the token verifier for the security section.
func verifier(cfg *config.Config) auth.Verifier {
	return auth.Verifier{
		Secret:   cfg.Security.JWT.Secret,
		Issuer:   cfg.Security.JWT.Issuer,
		Required: cfg.Security.RequireAuth,
	}
}

// stack is the database session and the script runner built on it.
type stack struct {
	db     *database.DB
	gw     *database.Gateway
	exec   *sqlexec.Executor
	runner *script.Runner
}

// openStack opens the database and builds the executor and runner.
func openStack(ctx context.Context, cfg *config.Config, log *logging.Logger) (*stack, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	gw, err := database.NewGateway(ctx, db)
	if err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("opening database session: %w", err)
	}

	exec := sqlexec.New(gw, sqlexec.Config{MaxParams: cfg.Scripting.MaxParams})
	exec.SetLogger(log.Component("sqlexec"))

	runner := script.NewRunner(exec, script.Config{
		Timeout:       cfg.GetScriptTimeout(),
		MaxSourceSize: cfg.Scripting.MaxSourceSize,
	})
	runner.SetLogger(log.Component("script"))

	return &stack{db: db, gw: gw, exec: exec, runner: runner}, nil
}

// Close releases the session and then the database.
func (s *stack) Close() error {
	return errors.Join(s.gw.Close(), s.db.Close())
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and recorder may be nil when disabled.
func healthCheck(ctx context.Context, gw *database.Gateway, mqttClient *mqtt.Client, recorder *influxdb.Recorder) error {
	if err := gw.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if recorder != nil {
		if err := recorder.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
