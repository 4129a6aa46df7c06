package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "dataset-merged", map[string]int{"added": 2})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(context.Background(), "dataset-merged", "done")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.JSONEq(t, `{"added": 2}`, string(msgs[0].Data))
	require.Equal(t, `"done"`, string(msgs[1].Data))

	msgs[0].Topic = "changed"
	require.Equal(t, "dataset-merged", pub.Messages()[0].Topic)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
	require.Empty(t, New().Messages())
}
