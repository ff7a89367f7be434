package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dbfleet/pkg/types"
)

func TestBrokerDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	require.NoError(t, b.Publish(&Event{Type: EventClusterConverged, ClusterID: "c1"}))

	select {
	case ev := <-sub:
		assert.Equal(t, EventClusterConverged, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	b := NewBroker() // not started, queue fills up

	var full int
	for i := 0; i < 150; i++ {
		if err := b.Publish(&Event{Type: EventClusterFailed}); err != nil {
			assert.ErrorIs(t, err, ErrBrokerFull)
			full++
		}
	}
	assert.Equal(t, 50, full)
}

func TestBrokerStopped(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	assert.ErrorIs(t, b.Publish(&Event{Type: EventClusterFailed}), ErrBrokerStopped)
}

func TestTypeForState(t *testing.T) {
	tests := []struct {
		state types.ConvergeState
		want  EventType
		ok    bool
	}{
		{types.StateConverged, EventClusterConverged, true},
		{types.StatePartialFailure, EventClusterPartialFailure, true},
		{types.StateFailed, EventClusterFailed, true},
		{types.StateExecuting, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			got, ok := TypeForState(tt.state)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
