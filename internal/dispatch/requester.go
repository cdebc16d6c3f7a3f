package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Caller is the requesting side of *mqtt.Client.
type Caller interface {
	AwaitResponse(id string, handler func(payload []byte)) (stop func() error, err error)
	PublishRequest(id string, payload []byte) error
}

// Requester sends scripts to a running bridge and waits for the answer.
type Requester struct {
	bus Caller
}

// NewRequester creates a Requester over bus.
func NewRequester(bus Caller) *Requester {
	return &Requester{bus: bus}
}

// Call publishes req under a fresh request ID and waits for its Response.
// The response subscription is in place before the request is sent.
//
// Returns:
//   - Response: The bridge's answer, which may itself report a failed run
//   - error: ErrEmptySource, ErrNoResponse when ctx ends first,
//     ErrBadResponse, or a broker error
func (r *Requester) Call(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Source) == "" {
		return Response{}, ErrEmptySource
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encoding request: %w", err)
	}

	id := uuid.NewString()
	answers := make(chan []byte, 1)
	stop, err := r.bus.AwaitResponse(id, func(p []byte) {
		select {
		case answers <- p:
		default:
		}
	})
	if err != nil {
		return Response{}, fmt.Errorf("awaiting response: %w", err)
	}
	defer stop() //nolint:errcheck // Best-effort unsubscribe; the ID is never reused

	if err := r.bus.PublishRequest(id, payload); err != nil {
		return Response{}, fmt.Errorf("publishing request: %w", err)
	}

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: request %s: %w", ErrNoResponse, id, ctx.Err())
	case p := <-answers:
		var resp Response
		if err := json.Unmarshal(p, &resp); err != nil {
			return Response{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
		}
		if resp.RequestID != id {
			return Response{}, fmt.Errorf("%w: answer for %q, want %q", ErrBadResponse, resp.RequestID, id)
		}
		return resp, nil
	}
}
