package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/sqlbridge/internal/auth"
	"github.com/nerrad567/sqlbridge/internal/script"
)

// EventScriptRun is the hub channel carrying run summaries.
const EventScriptRun = "script.run"

// RunRequest is the JSON body of POST /api/v1/scripts/run.
type RunRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// RunSummary is broadcast on EventScriptRun after every run.
type RunSummary struct {
	RunID      string `json:"run_id,omitempty"`
	Name       string `json:"name"`
	Caller     string `json:"caller,omitempty"`
	Via        string `json:"via"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// handleRunScript runs one script.
//
// The body is either JSON (RunRequest) or, for text/javascript and
// text/plain content types, the raw script source with the name taken from
// the ?name= query parameter.
func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRunRequest(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "source is required")
		return
	}

	res, err := s.run(r.Context(), req, "http")
	if err != nil {
		writeScriptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeRunRequest reads a RunRequest from either body form.
func decodeRunRequest(r *http.Request) (RunRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // Empty or malformed falls through to JSON
	switch mediaType {
	case "text/javascript", "application/javascript", "text/plain":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return RunRequest{}, err
		}
		return RunRequest{Name: r.URL.Query().Get("name"), Source: string(body)}, nil
	default:
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return RunRequest{}, err
			}
			return RunRequest{}, errors.New("invalid JSON body")
		}
		return req, nil
	}
}

// run executes req as the principal in ctx, updates counters and
// broadcasts a summary to console subscribers.
func (s *Server) run(ctx context.Context, req RunRequest, via string) (*script.Result, error) {
	principal := auth.PrincipalFromContext(ctx)
	start := time.Now()

	res, err := s.guardedRun(ctx, script.Request{
		Name:   req.Name,
		Source: req.Source,
		Caller: principal.Bytes(),
	})

	s.runsTotal.Add(1)
	summary := RunSummary{
		Name:       req.Name,
		Caller:     principal.Subject,
		Via:        via,
		OK:         err == nil,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		s.runsFailed.Add(1)
		summary.Error = err.Error()
	} else {
		summary.RunID = res.RunID
		summary.Name = res.Name
		summary.DurationMS = res.Duration.Milliseconds()
	}
	if s.hub != nil {
		s.hub.Broadcast(EventScriptRun, summary)
	}
	return res, err
}

// guardedRun calls the runner and turns a panic into script.ErrPanicked,
// so a console connection outlives a faulty run.
func (s *Server) guardedRun(ctx context.Context, req script.Request) (res *script.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("script run panicked", "name", req.Name, "panic", p)
			res, err = nil, fmt.Errorf("%w: %v", script.ErrPanicked, p)
		}
	}()
	return s.runner.Run(ctx, req)
}
