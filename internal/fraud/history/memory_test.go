package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendDefaults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Event{ActorID: "u-1", Action: ActionOperation}))

	events, err := s.FindRecentEvents(ctx, Filter{ActorID: "u-1"}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())
}

func TestMemoryStoreFiltering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []Event{
		{ActorID: "u-1", IPAddress: "1.1.1.1", Action: ActionOperation, CreatedAt: now.Add(-time.Minute)},
		{ActorID: "u-1", IPAddress: "1.1.1.1", Action: ActionSecurityAlert, CreatedAt: now.Add(-time.Hour)},
		{ActorID: "u-2", IPAddress: "1.1.1.1", Action: ActionOperation, CreatedAt: now.Add(-time.Minute)},
		{ActorID: "u-1", IPAddress: "2.2.2.2", Action: ActionOperation, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, e := range seed {
		require.NoError(t, s.Append(ctx, e))
	}

	n, err := s.CountEvents(ctx, Filter{ActorID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.CountEvents(ctx, Filter{ActorID: "u-1", Action: ActionOperation})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.CountEvents(ctx, Filter{IPAddress: "1.1.1.1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.CountEvents(ctx, Filter{ActorID: "u-1", Since: now.Add(-24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryStoreFindRecentOrdersNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, Event{
			ActorID:   "u-1",
			Action:    ActionOperation,
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		}))
	}

	events, err := s.FindRecentEvents(ctx, Filter{ActorID: "u-1"}, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i-1].CreatedAt.After(events[i].CreatedAt))
	}
}

func TestEventHasGeolocation(t *testing.T) {
	assert.False(t, (&Event{}).HasGeolocation())
	assert.True(t, (&Event{Country: "DE"}).HasGeolocation())
	assert.True(t, (&Event{Latitude: 52.52, Longitude: 13.41}).HasGeolocation())
}
