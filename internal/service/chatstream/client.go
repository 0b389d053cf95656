// Package chatstream drives the token-streaming chat protocol: one in-flight
// generation at a time, optimistic message appends, cooperative cancellation
// and the one-shot titling side effect.
package chatstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/backend"
	"github.com/titier-app/titier/bridge/internal/model/session"
	"github.com/titier-app/titier/bridge/internal/service/store"
)

// ErrBusy is returned while a prior request has not reached a terminal
// state; no new generation may start until it does.
var ErrBusy = errors.New("a generation is already in flight")

// State of the single in-flight request slot.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	// StateStopping covers the window between a stop request and the
	// stream's actual termination; the two are not synchronous.
	StateStopping State = "stopping"
)

// Outcome of the most recent request.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeFinalized Outcome = "finalized"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeErrored   Outcome = "errored"
)

// Backend is the slice of the sidecar client this package needs.
type Backend interface {
	OpenStream(ctx context.Context, req backend.StreamRequest) (io.ReadCloser, error)
	Stop(ctx context.Context) error
	GenerateTitle(ctx context.Context, userMessage, assistantMessage string) (string, error)
}

// Client runs the per-request state machine
// Idle -> Sending -> Streaming -> {Finalized | Cancelled | Errored}.
type Client struct {
	mu            sync.Mutex
	state         State
	stopRequested bool
	lastOutcome   Outcome

	store   *store.Store
	backend Backend
	log     *zap.Logger

	titleMu sync.Mutex
	titling map[string]struct{}
}

// New builds an idle client.
func New(st *store.Store, be Backend, log *zap.Logger) *Client {
	return &Client{
		state:   StateIdle,
		store:   st,
		backend: be,
		log:     log,
		titling: make(map[string]struct{}),
	}
}

// State reports the current request state, surfacing the stopping sub-state
// so the UI can disable the send affordance.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRequested && c.state != StateIdle {
		return StateStopping
	}
	return c.state
}

// LastOutcome reports how the most recent request terminated.
func (c *Client) LastOutcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOutcome
}

// Send runs one full generation turn for a session and blocks until the
// stream reaches a terminal state. The user message and an empty streaming
// placeholder are appended before the first byte of the response, so the UI
// always has an anchor to render into. observe, when non-nil, receives every
// applied frame.
//
// Transport failures are folded into the assistant message as a bracketed
// error annotation; the returned error is non-nil only for protocol misuse
// (busy client, unknown session).
func (c *Client) Send(ctx context.Context, sessionID, text string, observe func(Frame)) (session.Message, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return session.Message{}, ErrBusy
	}
	c.state = StateSending
	c.stopRequested = false
	c.mu.Unlock()

	final, err := c.run(ctx, sessionID, text, observe)

	c.mu.Lock()
	c.state = StateIdle
	c.stopRequested = false
	c.mu.Unlock()
	return final, err
}

func (c *Client) run(ctx context.Context, sessionID, text string, observe func(Frame)) (session.Message, error) {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		c.setOutcome(OutcomeErrored)
		return session.Message{}, store.ErrSessionNotFound
	}
	if observe == nil {
		observe = func(Frame) {}
	}

	// Optimistic append: the store must be renderable before we suspend on
	// the network.
	if _, err := c.store.AppendMessage(ctx, sessionID, session.Message{
		Role:    session.RoleUser,
		Content: text,
	}); err != nil {
		c.setOutcome(OutcomeErrored)
		return session.Message{}, err
	}
	placeholder, err := c.store.AppendMessage(ctx, sessionID, session.Message{
		Role:        session.RoleAssistant,
		IsStreaming: true,
	})
	if err != nil {
		c.setOutcome(OutcomeErrored)
		return session.Message{}, err
	}

	body, err := c.backend.OpenStream(ctx, backend.StreamRequest{
		Message:              text,
		DocumentFilter:       sess.ContextFilter,
		SearchMode:           sess.SearchMode,
		ColorFilter:          sess.Color,
		IncludeOtherSessions: sess.IncludeOtherSessions,
	})
	if err != nil {
		// The finalized message still exists, carrying only the annotation.
		content := errorAnnotation("", err.Error())
		final, ferr := c.store.FinalizeMessage(ctx, sessionID, placeholder.ID, content, nil)
		c.setOutcome(OutcomeErrored)
		if ferr != nil {
			return session.Message{}, ferr
		}
		return final, nil
	}
	defer body.Close()

	c.setState(StateStreaming)

	var (
		acc     string
		sources []session.Source
		errored bool
	)
	frames := NewFrameReader(body, c.log)

loop:
	for {
		frame, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			acc = errorAnnotation(acc, err.Error())
			_ = c.store.UpdateMessageContent(sessionID, placeholder.ID, acc)
			errored = true
			break
		}

		switch frame.Type {
		case FrameToken:
			acc += frame.Content
			_ = c.store.UpdateMessageContent(sessionID, placeholder.ID, acc)
		case FrameSources:
			// Held back until finalization.
			sources = frame.Sources
		case FrameFinished:
			assistant := acc
			go c.maybeGenerateTitle(context.Background(), sessionID, assistant)
		case FrameError:
			// Partial answers stay visible; the error rides along.
			acc = errorAnnotation(acc, frame.Error)
			_ = c.store.UpdateMessageContent(sessionID, placeholder.ID, acc)
			errored = true
		case FrameDone:
			observe(frame)
			break loop
		default:
			c.log.Warn("ignoring unknown frame type", zap.String("type", frame.Type))
			continue
		}
		observe(frame)
	}

	final, err := c.store.FinalizeMessage(ctx, sessionID, placeholder.ID, acc, sources)
	if err != nil {
		c.setOutcome(OutcomeErrored)
		return session.Message{}, err
	}

	switch {
	case c.stopWasRequested():
		c.setOutcome(OutcomeCancelled)
	case errored:
		c.setOutcome(OutcomeErrored)
	default:
		c.setOutcome(OutcomeFinalized)
	}
	return final, nil
}

// AutoStart consumes a session's seed prompt and sends it as the first turn.
// Reports false when the session has no pending prompt.
func (c *Client) AutoStart(ctx context.Context, sessionID string, observe func(Frame)) (session.Message, bool, error) {
	prompt, ok := c.store.TakeAutoStartPrompt(sessionID)
	if !ok {
		return session.Message{}, false, nil
	}
	msg, err := c.Send(ctx, sessionID, prompt, observe)
	return msg, true, err
}

// Stop signals the upstream to halt the active generation. Cancellation is
// cooperative: frames may keep arriving briefly and stay applied, the
// message is never truncated locally, and no new request may start until the
// stream terminates on its own.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.stopRequested = true
	c.mu.Unlock()

	return c.backend.Stop(ctx)
}

func (c *Client) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *Client) setOutcome(o Outcome) {
	c.mu.Lock()
	c.lastOutcome = o
	c.mu.Unlock()
}

func (c *Client) stopWasRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

func errorAnnotation(acc, msg string) string {
	if acc == "" {
		return fmt.Sprintf("[Erro: %s]", msg)
	}
	return fmt.Sprintf("%s\n\n[Erro: %s]", acc, msg)
}
