package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "scans", map[string]string{"status": "SUCCESS"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.JSONEq(t, `{"status":"SUCCESS"}`, string(msgs[0].Data))
	require.Len(t, pub.Topic("scans"), 1)
	require.Empty(t, pub.Topic("missing"))

	msgs[0].Topic = "modified"
	require.Equal(t, "scans", pub.Messages()[0].Topic)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "scans", make(chan int))
	require.Error(t, err)
	require.Empty(t, pub.Messages())
}

func TestPublisherHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "scans", "x")
	require.ErrorIs(t, err, context.Canceled)
}
