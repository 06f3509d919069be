package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.Publish(TypeServerStatus, ServerStatus{Running: true, Port: 8080})

	event := <-ch
	assert.Equal(t, TypeServerStatus, event.Type)
	assert.False(t, event.Timestamp.IsZero())
	status := event.Data.(ServerStatus)
	assert.True(t, status.Running)
	assert.Equal(t, 8080, status.Port)
}

func TestHub_MultipleSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	first, stopFirst := hub.Subscribe()
	defer stopFirst()
	second, stopSecond := hub.Subscribe()
	defer stopSecond()

	assert.Equal(t, 2, hub.SubscriberCount())

	hub.Publish(TypeDownloadCountChanged, int64(1))
	assert.Equal(t, TypeDownloadCountChanged, (<-first).Type)
	assert.Equal(t, TypeDownloadCountChanged, (<-second).Type)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsubscribe := hub.Subscribe()

	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount())

	// Idempotent.
	unsubscribe()
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	// Overfill the buffer; the publisher must not block.
	for i := 0; i < 100; i++ {
		hub.Publish(TypeConversionProgress, i)
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}

	require.Greater(t, received, 0)
	assert.Less(t, received, 100)
}

func TestHub_PublishFinalNeverDropped(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	// Flood the buffer so an ordinary publish would be dropped.
	for i := 0; i < 100; i++ {
		hub.Publish(TypeConversionProgress, i)
	}
	hub.PublishFinal(TypeConversionProgress, "terminal")

	var last Event
	seen := false
	for {
		select {
		case event := <-ch:
			last = event
			seen = true
			continue
		default:
		}
		break
	}

	require.True(t, seen)
	assert.Equal(t, "terminal", last.Data)
}

func TestHub_PublishFinalWithRoom(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.Publish(TypeConversionProgress, 50)
	hub.PublishFinal(TypeConversionProgress, "terminal")

	// Nothing is evicted when the buffer has room.
	assert.Equal(t, 50, (<-ch).Data)
	assert.Equal(t, "terminal", (<-ch).Data)
}
