package redsumer

import (
	"context"
	"errors"

	"github.com/mediocregopher/mediocre-go-lib/v2/mctx"
	"github.com/mediocregopher/mediocre-go-lib/v2/mlog"
)

// ProducerConfig carries the parameters defining a producer instance.
type ProducerConfig struct {
	// Stream is the key the producer appends to. The stream is created by
	// the server on the first append if it doesn't exist yet.
	Stream string

	// Logger receives this producer's diagnostics. Defaults to mlog.Null.
	Logger *mlog.Logger
}

func (cfg *ProducerConfig) fillDefaults() {
	if cfg.Logger == nil {
		cfg.Logger = mlog.Null
	}
}

func (cfg ProducerConfig) validate(ctx context.Context) error {
	if cfg.Stream == "" {
		return wrapKind(ctx, KindClient, errors.New("stream name is required"))
	}
	return nil
}

// Producer appends entries to a single stream. Unlike a Consumer, a Producer
// is safe for concurrent use: it holds no mutable state beyond its pooled
// connection.
type Producer struct {
	cmds     commands
	cfg      ProducerConfig
	ownsConn bool
}

// NewProducer builds a connection per args and verifies it with a ping. No
// stream state is checked: the stream is created implicitly on first
// publish.
func NewProducer(ctx context.Context, args ClientArgs, cfg ProducerConfig) (*Producer, error) {
	cfg.fillDefaults()
	if err := cfg.validate(ctx); err != nil {
		return nil, err
	}

	conn, err := dial(ctx, args)
	if err != nil {
		return nil, err
	}
	p, err := NewProducerFromConn(ctx, conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.ownsConn = true
	return p, nil
}

// NewProducerFromConn is like NewProducer but verifies a connection the
// caller already holds. The caller keeps ownership of conn; Close becomes a
// no-op.
func NewProducerFromConn(ctx context.Context, conn Conn, cfg ProducerConfig) (*Producer, error) {
	cfg.fillDefaults()
	if err := cfg.validate(ctx); err != nil {
		return nil, err
	}
	ctx = mctx.Annotate(ctx, "stream", cfg.Stream)

	if err := ping(ctx, conn); err != nil {
		return nil, err
	}
	cfg.Logger.Info(ctx, "producer ready")

	return &Producer{
		cmds: commands{conn: conn, log: cfg.Logger},
		cfg:  cfg,
	}, nil
}

// Config returns the configuration the Producer was built with.
func (p *Producer) Config() ProducerConfig {
	return p.cfg
}

// Close releases the connection if the Producer dialed it itself.
func (p *Producer) Close() error {
	if !p.ownsConn {
		return nil
	}
	return p.cmds.conn.Close()
}

// Produce appends fields as a single entry, letting the server assign the
// id, and returns that id. The package performs no retries; on error the
// caller applies its own policy. There is no ordering guarantee across
// concurrent producers beyond the server's assigned-id monotonicity.
func (p *Producer) Produce(ctx context.Context, fields map[string]string) (EntryID, error) {
	items := make([][2]string, 0, len(fields))
	for field, value := range fields {
		items = append(items, [2]string{field, value})
	}
	return p.ProduceItems(ctx, items)
}

// ProduceItems is like Produce but takes the fields as an ordered sequence
// of (field, value) pairs, preserving their order on the wire.
func (p *Producer) ProduceItems(ctx context.Context, items [][2]string) (EntryID, error) {
	ctx = mctx.Annotate(ctx, "stream", p.cfg.Stream)

	id, err := p.cmds.produce(ctx, p.cfg.Stream, items)
	if err != nil {
		return EntryID{}, err
	}
	p.cfg.Logger.Debug(mctx.Annotate(ctx, "entryID", id.String()), "entry produced")
	return id, nil
}
