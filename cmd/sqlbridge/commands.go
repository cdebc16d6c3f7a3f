package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nerrad567/sqlbridge/internal/auth"
	"github.com/nerrad567/sqlbridge/internal/dispatch"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/config"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/logging"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sqlbridge/internal/script"
)

// defaultRemoteTimeout bounds the wait for each remote response.
const defaultRemoteTimeout = 30 * time.Second

var (
	// errUsage is returned for malformed subcommand arguments.
	errUsage = errors.New("usage")

	// errMQTTDisabled is returned by remote when the mqtt section is off.
	errMQTTDisabled = errors.New("mqtt is disabled in the configuration")
)

// scriptName labels a script file by its base name without extension.
func scriptName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// loadQuietConfig loads the configuration with logs moved to stderr so
// they never mix with command output.
func loadQuietConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// runScripts runs each file once, in order, and writes one JSON result per
// line. It stops at the first failing script.
func runScripts(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	as := fs.String("as", "", "caller subject returned by me()")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: sqlbridge run [-as SUBJECT] FILE...: %w", errUsage, err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: sqlbridge run [-as SUBJECT] FILE...", errUsage)
	}
	if *as != "" && !auth.IsValidSubject(*as) {
		return fmt.Errorf("%w: %q", auth.ErrInvalidSubject, *as)
	}

	cfg, log, err := loadQuietConfig()
	if err != nil {
		return err
	}

	st, err := openStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // Best-effort on exit

	caller := auth.Principal{Subject: *as}.Bytes()
	enc := json.NewEncoder(stdout)
	for _, path := range fs.Args() {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading script: %w", err)
		}

		res, err := st.runner.Run(ctx, script.Request{
			Name:   scriptName(path),
			Source: string(src),
			Caller: caller,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
	}
	return nil
}

// remoteRun sends each file to a serving bridge over MQTT and writes one
// response per line. It stops at the first run the bridge reports as
// failed.
func remoteRun(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("remote", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	token := fs.String("token", "", "bearer token sent with each request")
	timeout := fs.Duration("timeout", defaultRemoteTimeout, "wait for each response")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: sqlbridge remote [-token T] [-timeout D] FILE...: %w", errUsage, err)
	}
	if fs.NArg() == 0 || *timeout <= 0 {
		return fmt.Errorf("%w: sqlbridge remote [-token T] [-timeout D] FILE...", errUsage)
	}

	cfg, log, err := loadQuietConfig()
	if err != nil {
		return err
	}
	if !cfg.MQTT.Enabled {
		return errMQTTDisabled
	}

	requests := make([]dispatch.Request, 0, fs.NArg())
	for _, path := range fs.Args() {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading script: %w", err)
		}
		requests = append(requests, dispatch.Request{Name: scriptName(path), Source: string(src), Token: *token})
	}

	client, err := mqtt.ConnectCaller(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // Best-effort on exit
	client.SetLogger(log)

	requester := dispatch.NewRequester(client)
	enc := json.NewEncoder(stdout)
	for i, req := range requests {
		callCtx, cancel := context.WithTimeout(ctx, *timeout)
		resp, err := requester.Call(callCtx, req)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", fs.Arg(i), err)
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
		if !resp.OK && resp.Error != nil {
			return fmt.Errorf("%s: %s: %s", fs.Arg(i), resp.Error.Code, resp.Error.Message)
		}
	}
	return nil
}

// mintToken prints a signed access token for the subject in args.
func mintToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: sqlbridge token [-ttl DURATION] SUBJECT: %w", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: sqlbridge token [-ttl DURATION] SUBJECT", errUsage)
	}

	cfg, _, err := loadQuietConfig()
	if err != nil {
		return err
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.GetTokenTTL()
	}

	token, err := auth.GenerateAccessToken(fs.Arg(0), cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, lifetime)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}
