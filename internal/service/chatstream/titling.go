package chatstream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/model/session"
)

const titleTimeout = 30 * time.Second

// maybeGenerateTitle fires the one-shot asynchronous titling side effect
// after the first assistant turn of a still-default-titled session. Two
// independent guards make the attempt at-most-once: the in-memory in-flight
// set absorbs a double-fired completion event, and the persisted
// titlingAttempted flag blocks a second attempt after the session is
// reopened, even across process restarts. Best-effort; never retried.
func (c *Client) maybeGenerateTitle(ctx context.Context, sessionID, assistantMessage string) {
	sess, ok := c.store.Get(sessionID)
	if !ok || !sess.HasDefaultTitle() || sess.TitlingAttempted {
		return
	}

	userMessage := firstUserContent(sess.Messages)
	if userMessage == "" || assistantMessage == "" {
		return
	}

	c.titleMu.Lock()
	if _, inflight := c.titling[sessionID]; inflight {
		c.titleMu.Unlock()
		return
	}
	c.titling[sessionID] = struct{}{}
	c.titleMu.Unlock()
	defer func() {
		c.titleMu.Lock()
		delete(c.titling, sessionID)
		c.titleMu.Unlock()
	}()

	// Record the attempt before calling out, so a failure is still an
	// attempt.
	if !c.store.ClaimTitling(ctx, sessionID) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	title, err := c.backend.GenerateTitle(ctx, userMessage, assistantMessage)
	if err != nil {
		c.log.Warn("title generation failed", zap.String("session", sessionID), zap.Error(err))
		return
	}
	if err := c.store.Rename(ctx, sessionID, title); err != nil {
		c.log.Warn("applying generated title failed", zap.String("session", sessionID), zap.Error(err))
	}
}

func firstUserContent(messages []session.Message) string {
	for _, m := range messages {
		if m.Role == session.RoleUser {
			return m.Content
		}
	}
	return ""
}
