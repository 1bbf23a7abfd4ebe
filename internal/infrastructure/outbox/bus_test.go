package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	domoutbox "github.com/cartloom/fulfillment/internal/domain/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var first, second atomic.Int64
	bus.Subscribe("thing.happened", func(context.Context, domoutbox.Event) error {
		first.Add(1)
		return nil
	})
	bus.Subscribe("thing.happened", func(context.Context, domoutbox.Event) error {
		second.Add(1)
		return nil
	})

	bus.Start(context.Background())
	defer bus.Stop()

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "thing.happened"}))

	waitFor(t, func() bool { return first.Load() == 1 && second.Load() == 1 })
}

func TestBusIgnoresUnsubscribedEvents(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Start(context.Background())
	defer bus.Stop()

	assert.NoError(t, bus.Publish(context.Background(), testEvent{name: "nobody.cares"}))
}

func TestBusSurvivesHandlerPanicAndError(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var delivered atomic.Int64
	bus.Subscribe("boom", func(context.Context, domoutbox.Event) error {
		panic("handler bug")
	})
	bus.Subscribe("boom", func(context.Context, domoutbox.Event) error {
		return errors.New("transient")
	})
	bus.Subscribe("boom", func(context.Context, domoutbox.Event) error {
		delivered.Add(1)
		return nil
	})

	bus.Start(context.Background())
	defer bus.Stop()

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "boom"}))
	waitFor(t, func() bool { return delivered.Load() == 1 })

	// the loop keeps running after a panic
	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "boom"}))
	waitFor(t, func() bool { return delivered.Load() == 2 })
}

func TestBusPublishNilIsNoOp(t *testing.T) {
	bus := NewBus(zap.NewNop())
	assert.NoError(t, bus.Publish(context.Background(), nil))
}
