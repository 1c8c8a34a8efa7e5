package redsumer

import (
	"context"
	"net"
	"os"
	"strconv"
	. "testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// integrationArgs returns ClientArgs for the server named by
// REDSUMER_TEST_REDIS_ADDR, skipping the test when it isn't set.
func integrationArgs(t *T) ClientArgs {
	t.Helper()
	addr := os.Getenv("REDSUMER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("REDSUMER_TEST_REDIS_ADDR not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return ClientArgs{Host: host, Port: port}
}

func randName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func TestIntegrationProduceThenConsume(t *T) {
	args := integrationArgs(t)
	ctx := context.Background()
	stream, group := randName("stream"), randName("group")

	producer, err := NewProducer(ctx, args, ProducerConfig{Stream: stream})
	require.NoError(t, err)
	defer producer.Close()

	producedID, err := producer.Produce(ctx, map[string]string{"id": "u1"})
	require.NoError(t, err)

	consumer, err := NewConsumer(ctx, args, ConsumerConfig{
		Stream:   stream,
		Group:    group,
		Consumer: "c1",
		ReadNew:  ReadNewOpts{Count: 10},
	})
	require.NoError(t, err)
	defer consumer.Close()

	reply, err := consumer.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, ConsumeNew, reply.Kind)
	require.Len(t, reply.Entries, 1)
	assert.Equal(t, producedID, reply.Entries[0].ID)
	assert.Equal(t, map[string]string{"id": "u1"}, reply.Entries[0].Fields)

	// ack is idempotent on success: true, then false, never an error
	acked, err := consumer.Ack(ctx, producedID)
	require.NoError(t, err)
	assert.True(t, acked)
	acked, err = consumer.Ack(ctx, producedID)
	require.NoError(t, err)
	assert.False(t, acked)

	mine, err := consumer.StillMine(ctx, producedID)
	require.NoError(t, err)
	assert.False(t, mine.BelongsToMe)
}

func TestIntegrationCrossConsumerClaim(t *T) {
	args := integrationArgs(t)
	ctx := context.Background()
	stream, group := randName("stream"), randName("group")

	producer, err := NewProducer(ctx, args, ProducerConfig{Stream: stream})
	require.NoError(t, err)
	defer producer.Close()

	ids := make([]EntryID, 3)
	for i := range ids {
		ids[i], err = producer.Produce(ctx, map[string]string{"n": strconv.Itoa(i)})
		require.NoError(t, err)
	}

	a, err := NewConsumer(ctx, args, ConsumerConfig{
		Stream:   stream,
		Group:    group,
		Consumer: "a",
		ReadNew:  ReadNewOpts{Count: 10},
	})
	require.NoError(t, err)
	defer a.Close()

	reply, err := a.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, ConsumeNew, reply.Kind)
	require.Len(t, reply.Entries, 3)

	// a never acks, so after the idle threshold b claims everything
	time.Sleep(5 * time.Millisecond)

	b, err := NewConsumer(ctx, args, ConsumerConfig{
		Stream:   stream,
		Group:    group,
		Consumer: "b",
		Claim:    ClaimOpts{Count: 10, MinIdle: time.Millisecond},
	})
	require.NoError(t, err)
	defer b.Close()

	reply, err = b.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, ConsumeClaimed, reply.Kind)
	require.Len(t, reply.Entries, 3)

	for _, id := range ids {
		mineA, err := a.StillMine(ctx, id)
		require.NoError(t, err)
		assert.False(t, mineA.BelongsToMe)

		mineB, err := b.StillMine(ctx, id)
		require.NoError(t, err)
		assert.True(t, mineB.BelongsToMe)
		require.NotNil(t, mineB.TimesDelivered)
		assert.True(t, *mineB.TimesDelivered >= 2)
	}

	// phase precedence: a fresh entry wins over b's pending claims
	_, err = producer.Produce(ctx, map[string]string{"fresh": "yes"})
	require.NoError(t, err)

	b2, err := NewConsumer(ctx, args, ConsumerConfig{
		Stream:      stream,
		Group:       group,
		Consumer:    "b",
		ReadNew:     ReadNewOpts{Count: 10},
		ReadPending: ReadPendingOpts{Count: 10},
		Claim:       ClaimOpts{Count: 10, MinIdle: time.Millisecond},
	})
	require.NoError(t, err)
	defer b2.Close()

	reply, err = b2.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, ConsumeNew, reply.Kind)
	require.Len(t, reply.Entries, 1)
	assert.Equal(t, "yes", reply.Entries[0].Fields["fresh"])
}

func TestIntegrationPendingReplay(t *T) {
	args := integrationArgs(t)
	ctx := context.Background()
	stream, group := randName("stream"), randName("group")

	producer, err := NewProducer(ctx, args, ProducerConfig{Stream: stream})
	require.NoError(t, err)
	defer producer.Close()

	for i := 0; i < 2; i++ {
		_, err = producer.Produce(ctx, map[string]string{"n": strconv.Itoa(i)})
		require.NoError(t, err)
	}

	// read-and-drop so both entries land in the consumer's pending list
	reader, err := NewConsumer(ctx, args, ConsumerConfig{
		Stream:   stream,
		Group:    group,
		Consumer: "c",
		ReadNew:  ReadNewOpts{Count: 10},
	})
	require.NoError(t, err)
	defer reader.Close()

	reply, err := reader.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, ConsumeNew, reply.Kind)
	require.Len(t, reply.Entries, 2)

	replayer, err := NewConsumer(ctx, args, ConsumerConfig{
		Stream:      stream,
		Group:       group,
		Consumer:    "c",
		ReadPending: ReadPendingOpts{Count: 10},
	})
	require.NoError(t, err)
	defer replayer.Close()

	reply, err = replayer.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, ConsumePending, reply.Kind)
	require.Len(t, reply.Entries, 2)

	// the cursor has advanced past both entries
	reply, err = replayer.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, ConsumeNotFound, reply.Kind)
	assert.Equal(t, BeginningOfTimeID, replayer.pendingCursor)

	// the reset cursor makes the next round scan the pending list from the
	// start, replaying the still-unacknowledged entries again
	reply, err = replayer.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, ConsumePending, reply.Kind)
	require.Len(t, reply.Entries, 2)
}

func TestIntegrationMissingStream(t *T) {
	args := integrationArgs(t)
	cfg := testConsumerConfig()
	cfg.Stream = randName("does-not-exist")
	_, err := NewConsumer(context.Background(), args, cfg)
	assertKind(t, err, KindStreamMissing)
}
