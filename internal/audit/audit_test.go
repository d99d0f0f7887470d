package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.Publish(context.Background(), EventTokenIssued, 42, map[string]any{"client_id": "client-a"})
	p.Close()
}

func TestEventWireShape(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	body, err := json.Marshal(Event{
		Event:   EventCodeIssued,
		ActorID: 42,
		Detail:  map[string]any{"client_id": "client-a"},
		At:      at,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "oauth2.code.issued", decoded["event"])
	assert.Equal(t, float64(42), decoded["actor_id"])
	assert.Equal(t, "2025-06-01T12:00:00Z", decoded["at"])

	// Empty detail stays off the wire.
	body, err = json.Marshal(Event{Event: EventClientDeleted, At: at})
	require.NoError(t, err)
	assert.NotContains(t, string(body), "detail")
}
