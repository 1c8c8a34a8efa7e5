package redsumer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mediocregopher/mediocre-go-lib/v2/mctx"
	"github.com/mediocregopher/mediocre-go-lib/v2/mlog"
)

// ReadNewOpts configure the first consume phase, which reads entries never
// delivered to the group.
type ReadNewOpts struct {
	// Count is the max number of entries the phase asks for. 0 skips the
	// phase without contacting the server.
	Count int

	// Block is how long the server may hold the read open waiting for a new
	// entry. Zero means a non-blocking poll. This value must be less than
	// the read timeout of the underlying connection.
	Block time.Duration
}

// ReadPendingOpts configure the second consume phase, which replays entries
// already delivered to this consumer but never acknowledged.
type ReadPendingOpts struct {
	// Count is the max number of entries the phase asks for. 0 skips the
	// phase without contacting the server.
	Count int
}

// ClaimOpts configure the third consume phase, which claims entries away
// from group peers that have held them pending for too long.
type ClaimOpts struct {
	// Count is the max number of entries the phase asks for. 0 skips the
	// phase without contacting the server.
	Count int

	// MinIdle is the time an entry must have sat in a peer's pending list
	// since its last delivery before it may be claimed. Choose a value
	// exceeding the worst-case processing latency of the group's consumers,
	// otherwise entries still being worked on will be stolen.
	MinIdle time.Duration
}

// ConsumeKind tags which phase produced a consume batch.
type ConsumeKind int

const (
	// ConsumeNew entries had never been delivered to any consumer in the
	// group.
	ConsumeNew ConsumeKind = iota

	// ConsumePending entries were replayed from this consumer's own pending
	// list.
	ConsumePending

	// ConsumeClaimed entries were taken over from other consumers in the
	// group which held them idle for at least ClaimOpts.MinIdle.
	ConsumeClaimed

	// ConsumeNotFound tags the empty batch returned when all three phases
	// came back empty.
	ConsumeNotFound
)

func (k ConsumeKind) String() string {
	switch k {
	case ConsumeNew:
		return "new"
	case ConsumePending:
		return "pending"
	case ConsumeClaimed:
		return "claimed"
	case ConsumeNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// ConsumeReply is one batch of entries handed out by Consume, tagged with
// the phase that produced it.
type ConsumeReply struct {
	Entries []Entry
	Kind    ConsumeKind
}

// StillMineReply reports whether an entry is still in this consumer's
// pending list.
type StillMineReply struct {
	// BelongsToMe is true while the entry sits in this consumer's pending
	// list. False means the entry was acknowledged or claimed away and must
	// not be processed.
	BelongsToMe bool

	// LastDelivered is the time elapsed since the entry was last delivered
	// to this consumer. Nil when BelongsToMe is false.
	LastDelivered *time.Duration

	// TimesDelivered counts deliveries of the entry to any consumer in the
	// group. Nil when BelongsToMe is false.
	TimesDelivered *uint64
}

// ConsumerConfig carries the parameters defining a consumer instance.
type ConsumerConfig struct {
	// Stream is the key at which the stream resides.
	Stream string

	// Group is the name of the consumer group to consume through.
	Group string

	// Consumer is this consumer's name within Group. It must be unique in
	// the group and should remain the same across restarts of the process;
	// two live consumers sharing a name weaken the delivery guarantees this
	// package promises. In container deployments the pod name works well.
	Consumer string

	ReadNew     ReadNewOpts
	ReadPending ReadPendingOpts
	Claim       ClaimOpts

	// InitialStreamID is only used when the consumer group is first being
	// created, and seeds where in the stream the group starts consuming.
	// Defaults to BeginningOfTimeID. "$" means only entries appended after
	// group creation.
	InitialStreamID string

	// Logger receives this consumer's diagnostics. Defaults to mlog.Null.
	Logger *mlog.Logger
}

func (cfg *ConsumerConfig) fillDefaults() {
	if cfg.InitialStreamID == "" {
		cfg.InitialStreamID = BeginningOfTimeID
	}
	if cfg.Logger == nil {
		cfg.Logger = mlog.Null
	}
}

func (cfg ConsumerConfig) validate(ctx context.Context) error {
	var err error
	switch {
	case cfg.Stream == "":
		err = errors.New("stream name is required")
	case cfg.Group == "":
		err = errors.New("group name is required")
	case cfg.Consumer == "":
		err = errors.New("consumer name is required")
	case cfg.ReadNew.Count < 0 || cfg.ReadPending.Count < 0 || cfg.Claim.Count < 0:
		err = errors.New("counts cannot be negative")
	case cfg.ReadNew.Block < 0:
		err = errors.New("block time cannot be negative")
	case cfg.Claim.MinIdle < 0:
		err = errors.New("min idle time cannot be negative")
	}
	if err == nil && cfg.InitialStreamID != "$" {
		_, err = ParseEntryID(cfg.InitialStreamID)
	}
	if err != nil {
		return wrapKind(ctx, KindClient, err)
	}
	return nil
}

// NewConsumerName returns "<prefix>-<uuid>", usable as a Consumer name by
// callers which cannot supply a durable identity of their own. A name minted
// this way changes on every restart, so entries pending on the previous
// incarnation are only recovered through the claim phase of other group
// members.
func NewConsumerName(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// Consumer consumes a single stream through a consumer group. A Consumer is
// intended to be used in a single-threaded manner and doesn't spawn any
// go-routines; it is not safe for concurrent use. Callers that want fan-out
// create multiple Consumers with distinct Consumer names.
type Consumer struct {
	cmds commands
	cfg  ConsumerConfig

	// pendingCursor is the id strictly after which this consumer's own
	// pending entries are next replayed. claimCursor is the server's
	// scan-resumption token for the claim phase. Both only move forward,
	// except for the documented replay reset on an empty batch.
	pendingCursor string
	claimCursor   string

	ownsConn bool
}

// NewConsumer builds a connection per args and bootstraps a Consumer over
// it: the server must answer a ping, the stream must already exist, and the
// consumer group is created at InitialStreamID if it doesn't exist yet. The
// stream not existing is reported as a KindStreamMissing Error; producing to
// the stream creates it.
func NewConsumer(ctx context.Context, args ClientArgs, cfg ConsumerConfig) (*Consumer, error) {
	cfg.fillDefaults()
	if err := cfg.validate(ctx); err != nil {
		return nil, err
	}

	conn, err := dial(ctx, args)
	if err != nil {
		return nil, err
	}
	c, err := NewConsumerFromConn(ctx, conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.ownsConn = true
	return c, nil
}

// NewConsumerFromConn is like NewConsumer but bootstraps over a connection
// the caller already holds. The caller keeps ownership of conn; Close
// becomes a no-op.
func NewConsumerFromConn(ctx context.Context, conn Conn, cfg ConsumerConfig) (*Consumer, error) {
	cfg.fillDefaults()
	if err := cfg.validate(ctx); err != nil {
		return nil, err
	}
	ctx = mctx.Annotate(ctx,
		"stream", cfg.Stream,
		"group", cfg.Group,
		"consumer", cfg.Consumer)

	cmds := commands{conn: conn, log: cfg.Logger}
	if err := ping(ctx, conn); err != nil {
		return nil, err
	}

	exists, err := cmds.streamExists(ctx, cfg.Stream)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, wrapKind(ctx, KindStreamMissing, errors.New("stream does not exist"))
	}

	created, err := cmds.groupCreate(ctx, cfg.Stream, cfg.Group, cfg.InitialStreamID)
	if err != nil {
		return nil, err
	}
	if created {
		cfg.Logger.Info(mctx.Annotate(ctx, "initialStreamID", cfg.InitialStreamID), "consumer group created")
	} else {
		cfg.Logger.Debug(ctx, "consumer group already existed")
	}
	cfg.Logger.Info(ctx, "consumer ready")

	return &Consumer{
		cmds:          cmds,
		cfg:           cfg,
		pendingCursor: BeginningOfTimeID,
		claimCursor:   BeginningOfTimeID,
	}, nil
}

// Config returns the configuration the Consumer was built with.
func (c *Consumer) Config() ConsumerConfig {
	return c.cfg
}

// Close releases the connection if the Consumer dialed it itself.
func (c *Consumer) Close() error {
	if !c.ownsConn {
		return nil
	}
	return c.cmds.conn.Close()
}

func (c *Consumer) annotate(ctx context.Context) context.Context {
	return mctx.Annotate(ctx,
		"stream", c.cfg.Stream,
		"group", c.cfg.Group,
		"consumer", c.cfg.Consumer)
}

// Consume attempts the three phases in order and returns as soon as one
// yields a non-empty batch:
//
// 1. Entries never delivered to the group, tagged ConsumeNew.
// 2. Entries pending on this consumer, replayed from the pending cursor,
// tagged ConsumePending.
// 3. Entries claimed from group peers idle past ClaimOpts.MinIdle, tagged
// ConsumeClaimed.
//
// If every phase comes back empty the reply is an empty batch tagged
// ConsumeNotFound. Returning the first non-empty batch bounds the work
// handed out per call and prefers fresh entries over stale redeliveries, so
// a permanently stuck entry cannot block the head of the line.
//
// A phase's cursor only moves when that phase actually ran: the replay
// cursor advances to the last replayed id on a non-empty batch and resets to
// BeginningOfTimeID on an empty one, and the claim cursor takes whatever
// scan-resumption token the server returned. On error the failed phase's
// cursor is untouched.
func (c *Consumer) Consume(ctx context.Context) (ConsumeReply, error) {
	ctx = c.annotate(ctx)

	newEntries, err := c.cmds.readNew(ctx,
		c.cfg.Stream, c.cfg.Group, c.cfg.Consumer,
		c.cfg.ReadNew.Count, c.cfg.ReadNew.Block)
	if err != nil {
		return ConsumeReply{}, err
	}
	if len(newEntries) > 0 {
		c.cfg.Logger.Debug(
			mctx.Annotate(ctx, "entries", strconv.Itoa(len(newEntries))),
			"new entries found")
		return ConsumeReply{Entries: newEntries, Kind: ConsumeNew}, nil
	}

	pending, pendingCursor, err := c.cmds.readPending(ctx,
		c.cfg.Stream, c.cfg.Group, c.cfg.Consumer,
		c.pendingCursor, c.cfg.ReadPending.Count)
	if err != nil {
		return ConsumeReply{}, err
	}
	if c.cfg.ReadPending.Count > 0 {
		c.pendingCursor = pendingCursor
	}
	if len(pending) > 0 {
		c.cfg.Logger.Debug(
			mctx.Annotate(ctx, "entries", strconv.Itoa(len(pending))),
			"pending entries replayed")
		return ConsumeReply{Entries: pending, Kind: ConsumePending}, nil
	}

	claimed, claimCursor, err := c.cmds.autoClaim(ctx,
		c.cfg.Stream, c.cfg.Group, c.cfg.Consumer,
		c.cfg.Claim.MinIdle, c.claimCursor, c.cfg.Claim.Count)
	if err != nil {
		return ConsumeReply{}, err
	}
	if c.cfg.Claim.Count > 0 {
		c.claimCursor = claimCursor
	}
	if len(claimed) > 0 {
		c.cfg.Logger.Debug(
			mctx.Annotate(ctx, "entries", strconv.Itoa(len(claimed))),
			"entries claimed from group peers")
		return ConsumeReply{Entries: claimed, Kind: ConsumeClaimed}, nil
	}

	return ConsumeReply{Kind: ConsumeNotFound}, nil
}

// StillMine reports whether the entry identified by id still sits in this
// consumer's pending list. Call it after dequeueing and before irreversible
// side effects: a false report means the entry was acknowledged or claimed
// away, and must not be processed.
func (c *Consumer) StillMine(ctx context.Context, id EntryID) (StillMineReply, error) {
	ctx = c.annotate(ctx)

	row, present, err := c.cmds.pendingFor(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, id)
	if err != nil {
		return StillMineReply{}, err
	}
	if !present {
		return StillMineReply{}, nil
	}

	lastDelivered := time.Duration(row.idleMS) * time.Millisecond
	timesDelivered := row.timesDelivered
	return StillMineReply{
		BelongsToMe:    true,
		LastDelivered:  &lastDelivered,
		TimesDelivered: &timesDelivered,
	}, nil
}

// Ack acknowledges the entry identified by id, removing it from the pending
// list. It reports true iff the server removed exactly one entry, so a
// second Ack of the same id reports false rather than erroring. The package
// performs no retries; a failed Ack surfaces unchanged.
func (c *Consumer) Ack(ctx context.Context, id EntryID) (bool, error) {
	ctx = c.annotate(ctx)
	acked, err := c.cmds.ack(ctx, c.cfg.Stream, c.cfg.Group, id)
	if err != nil {
		return false, err
	}
	if !acked {
		c.cfg.Logger.Debug(
			mctx.Annotate(ctx, "entryID", id.String()),
			"entry was not acknowledged, it may have been acked or claimed already")
	}
	return acked, nil
}
