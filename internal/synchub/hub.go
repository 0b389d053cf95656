// Package synchub converges session-list and theme state across top-level
// windows that share no runtime memory. Changes are broadcast as typed
// events over an in-process pub/sub; every window applies them against its
// own copy, so consistency is eventual by design.
package synchub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/model/syncevent"
)

const changeTopic = "window.changes"

// Hub fans change events out to every subscribed window and keeps the
// current theme value as the one piece of shared presentation state.
type Hub struct {
	ps  *gochannel.GoChannel
	log *zap.Logger

	mu    sync.Mutex
	theme string
}

// New builds a hub with an in-process broadcast channel.
func New(log *zap.Logger) *Hub {
	ps := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NopLogger{},
	)
	return &Hub{ps: ps, log: log, theme: "light"}
}

// SessionsChanged broadcasts that the session list mutated. Implements the
// store's Notifier.
func (h *Hub) SessionsChanged() {
	h.publish(syncevent.Event{Kind: syncevent.SessionsChanged})
}

// ColorsChanged broadcasts a palette mutation.
func (h *Hub) ColorsChanged() {
	h.publish(syncevent.Event{Kind: syncevent.ColorsChanged})
}

// SetTheme records and broadcasts the shared theme.
func (h *Hub) SetTheme(theme string) {
	h.mu.Lock()
	h.theme = theme
	h.mu.Unlock()

	payload, _ := json.Marshal(theme)
	h.publish(syncevent.Event{Kind: syncevent.ThemeChanged, Payload: payload})
}

// Theme returns the current shared theme.
func (h *Hub) Theme() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.theme
}

// Subscribe returns a channel of change events that closes when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) (<-chan syncevent.Event, error) {
	messages, err := h.ps.Subscribe(ctx, changeTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan syncevent.Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev syncevent.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				h.log.Warn("dropping malformed change event", zap.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close tears down the broadcast channel.
func (h *Hub) Close() error {
	return h.ps.Close()
}

func (h *Hub) publish(ev syncevent.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("encoding change event failed", zap.Error(err))
		return
	}
	if err := h.ps.Publish(changeTopic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		h.log.Warn("broadcasting change event failed", zap.Error(err))
	}
}
