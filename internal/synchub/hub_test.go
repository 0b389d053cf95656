package synchub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/model/syncevent"
)

func receiveEvent(t *testing.T, events <-chan syncevent.Event) syncevent.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return syncevent.Event{}
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub := New(zap.NewNop())
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	second, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	hub.SessionsChanged()

	assert.Equal(t, syncevent.SessionsChanged, receiveEvent(t, first).Kind)
	assert.Equal(t, syncevent.SessionsChanged, receiveEvent(t, second).Kind)
}

func TestSetThemeStoresAndBroadcasts(t *testing.T) {
	hub := New(zap.NewNop())
	defer hub.Close()

	assert.Equal(t, "light", hub.Theme())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	hub.SetTheme("dark")
	assert.Equal(t, "dark", hub.Theme())

	ev := receiveEvent(t, events)
	assert.Equal(t, syncevent.ThemeChanged, ev.Kind)

	var theme string
	require.NoError(t, json.Unmarshal(ev.Payload, &theme))
	assert.Equal(t, "dark", theme)
}

func TestColorsChangedEventKind(t *testing.T) {
	hub := New(zap.NewNop())
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	hub.ColorsChanged()
	assert.Equal(t, syncevent.ColorsChanged, receiveEvent(t, events).Kind)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	hub := New(zap.NewNop())
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel should close after cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after context cancellation")
	}
}
