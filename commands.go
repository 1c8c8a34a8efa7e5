package redsumer

import (
	"bufio"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mediocregopher/mediocre-go-lib/v2/mctx"
	"github.com/mediocregopher/mediocre-go-lib/v2/mlog"
	"github.com/mediocregopher/radix/v3"
	"github.com/mediocregopher/radix/v3/resp/resp2"
)

// xreadReply decodes one [stream, entries] element of an XREADGROUP reply.
type xreadReply struct {
	stream  []byte
	entries []Entry
}

// UnmarshalRESP implements the method for the resp.Unmarshaler interface.
func (r *xreadReply) UnmarshalRESP(br *bufio.Reader) error {
	var ah resp2.ArrayHeader
	if err := ah.UnmarshalRESP(br); err != nil {
		return err
	}
	if ah.N != 2 {
		return errors.New("invalid xreadgroup reply")
	}

	var stream resp2.BulkStringBytes
	stream.B = r.stream[:0]
	if err := stream.UnmarshalRESP(br); err != nil {
		return err
	}
	r.stream = stream.B

	return (resp2.Any{I: &r.entries}).UnmarshalRESP(br)
}

// autoClaimReply decodes an XAUTOCLAIM reply. Servers before 7.0 return
// [cursor, entries]; 7.0 appends a third list of ids deleted from the stream
// while pending, which is drained and discarded since those entries no
// longer exist to process.
type autoClaimReply struct {
	cursor  string
	claimed []Entry
}

// UnmarshalRESP implements the method for the resp.Unmarshaler interface.
func (r *autoClaimReply) UnmarshalRESP(br *bufio.Reader) error {
	var ah resp2.ArrayHeader
	if err := ah.UnmarshalRESP(br); err != nil {
		return err
	}
	if ah.N != 2 && ah.N != 3 {
		return errors.New("invalid xautoclaim reply")
	}

	var cursor resp2.BulkString
	if err := cursor.UnmarshalRESP(br); err != nil {
		return err
	}
	r.cursor = cursor.S

	if err := (resp2.Any{I: &r.claimed}).UnmarshalRESP(br); err != nil {
		return err
	}

	if ah.N == 3 {
		var deleted []string
		if err := (resp2.Any{I: &deleted}).UnmarshalRESP(br); err != nil {
			return err
		}
	}
	return nil
}

// pendingEntry decodes one row of an extended XPENDING reply.
type pendingEntry struct {
	id             EntryID
	consumer       string
	idleMS         uint64
	timesDelivered uint64
}

// UnmarshalRESP implements the method for the resp.Unmarshaler interface.
func (p *pendingEntry) UnmarshalRESP(br *bufio.Reader) error {
	var ah resp2.ArrayHeader
	if err := ah.UnmarshalRESP(br); err != nil {
		return err
	}
	if ah.N != 4 {
		return errors.New("invalid xpending reply row")
	}
	if err := p.id.UnmarshalRESP(br); err != nil {
		return err
	}
	var consumer resp2.BulkString
	if err := consumer.UnmarshalRESP(br); err != nil {
		return err
	}
	p.consumer = consumer.S
	var idle resp2.Int
	if err := idle.UnmarshalRESP(br); err != nil {
		return err
	}
	p.idleMS = uint64(idle.I)
	var delivered resp2.Int
	if err := delivered.UnmarshalRESP(br); err != nil {
		return err
	}
	p.timesDelivered = uint64(delivered.I)
	return nil
}

// commands translates the verbs this package needs onto Conn round-trips and
// parses the replies into domain records. Every method is a suspension
// point: the context is checked before the server is contacted, and a
// cancelled context means the verb never ran.
type commands struct {
	conn Conn
	log  *mlog.Logger
}

func (c commands) checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapKind(ctx, KindTransport, err)
	}
	return nil
}

func (c commands) streamExists(ctx context.Context, key string) (bool, error) {
	if err := c.checkCtx(ctx); err != nil {
		return false, err
	}
	var n int
	if err := c.conn.Do(radix.Cmd(&n, "EXISTS", key)); err != nil {
		return false, classifyCmdErr(ctx, err)
	}
	return n == 1, nil
}

// groupCreate idempotently creates the consumer group at the given seed id.
// The server's "group already exists" signal is not an error to this
// package; it is normalized into the returned boolean.
func (c commands) groupCreate(ctx context.Context, key, group, since string) (created bool, err error) {
	if err := c.checkCtx(ctx); err != nil {
		return false, err
	}
	err = c.conn.Do(radix.Cmd(nil, "XGROUP", "CREATE", key, group, since))
	if err == nil {
		return true, nil
	}
	if strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return false, nil
	}
	return false, classifyCmdErr(ctx, err)
}

// readGroup issues XREADGROUP with the given args and flattens the reply to
// the entries of the requested stream. Entries for any other stream are
// dropped with a warning diagnostic rather than failing the read.
func (c commands) readGroup(ctx context.Context, key string, args []string) ([]Entry, error) {
	var replies []xreadReply
	if err := c.conn.Do(radix.Cmd(&replies, "XREADGROUP", args...)); err != nil {
		return nil, classifyCmdErr(ctx, err)
	}

	var entries []Entry
	for i := range replies {
		if string(replies[i].stream) != key {
			c.log.WarnString(
				mctx.Annotate(ctx, "unexpectedStream", string(replies[i].stream)),
				"dropping reply entries for a stream that was not requested")
			continue
		}
		entries = append(entries, replies[i].entries...)
	}
	return entries, nil
}

// readNew reads entries never delivered to the group. A zero count skips the
// read entirely, and the server is only asked to block when a block time was
// configured.
func (c commands) readNew(ctx context.Context, key, group, consumer string, count int, block time.Duration) ([]Entry, error) {
	if count <= 0 {
		return nil, nil
	}
	if err := c.checkCtx(ctx); err != nil {
		return nil, err
	}

	args := []string{"GROUP", group, consumer, "COUNT", strconv.Itoa(count)}
	if block > 0 {
		// BLOCK 0 means "block forever", so a sub-millisecond block time is
		// sent as the 1ms minimum
		ms := block / time.Millisecond
		if ms < 1 {
			ms = 1
		}
		args = append(args, "BLOCK", strconv.Itoa(int(ms)))
	}
	args = append(args, "STREAMS", key, newEntriesCursor)
	return c.readGroup(ctx, key, args)
}

// readPending replays entries already pending on this consumer, strictly
// after cursor. The returned cursor is the id of the last replayed entry, or
// BeginningOfTimeID when the replay came back empty.
func (c commands) readPending(ctx context.Context, key, group, consumer, cursor string, count int) ([]Entry, string, error) {
	if count <= 0 {
		return nil, BeginningOfTimeID, nil
	}
	if err := c.checkCtx(ctx); err != nil {
		return nil, "", err
	}

	args := []string{"GROUP", group, consumer, "COUNT", strconv.Itoa(count), "STREAMS", key, cursor}
	entries, err := c.readGroup(ctx, key, args)
	if err != nil {
		return nil, "", err
	}
	if len(entries) == 0 {
		return nil, BeginningOfTimeID, nil
	}
	return entries, entries[len(entries)-1].ID.String(), nil
}

// autoClaim transfers ownership of group entries pending longer than minIdle
// to this consumer, scanning from cursor. The returned cursor is the
// server's scan-resumption token.
func (c commands) autoClaim(ctx context.Context, key, group, consumer string, minIdle time.Duration, cursor string, count int) ([]Entry, string, error) {
	if count <= 0 {
		return nil, BeginningOfTimeID, nil
	}
	if err := c.checkCtx(ctx); err != nil {
		return nil, "", err
	}

	var reply autoClaimReply
	err := c.conn.Do(radix.Cmd(&reply, "XAUTOCLAIM",
		key, group, consumer,
		strconv.Itoa(int(minIdle/time.Millisecond)),
		cursor,
		"COUNT", strconv.Itoa(count)))
	if err != nil {
		return nil, "", classifyCmdErr(ctx, err)
	}

	claimed := make([]Entry, 0, len(reply.claimed))
	for _, e := range reply.claimed {
		// entries deleted from the stream while pending come back nil
		if e.ID.IsZero() {
			continue
		}
		claimed = append(claimed, e)
	}
	return claimed, reply.cursor, nil
}

// pendingFor looks up the one-element slice [id, id] of this consumer's
// pending entries list.
func (c commands) pendingFor(ctx context.Context, key, group, consumer string, id EntryID) (pendingEntry, bool, error) {
	if err := c.checkCtx(ctx); err != nil {
		return pendingEntry{}, false, err
	}
	var rows []pendingEntry
	err := c.conn.Do(radix.Cmd(&rows, "XPENDING", key, group, id.String(), id.String(), "1", consumer))
	if err != nil {
		return pendingEntry{}, false, classifyCmdErr(ctx, err)
	}
	if len(rows) == 0 {
		return pendingEntry{}, false, nil
	}
	return rows[0], true, nil
}

// ack removes id from the pending entries list, reporting whether the server
// removed exactly one entry.
func (c commands) ack(ctx context.Context, key, group string, id EntryID) (bool, error) {
	if err := c.checkCtx(ctx); err != nil {
		return false, err
	}
	var n int
	if err := c.conn.Do(radix.Cmd(&n, "XACK", key, group, id.String())); err != nil {
		return false, classifyCmdErr(ctx, err)
	}
	return n == 1, nil
}

// produce appends an entry, always letting the server assign the id.
func (c commands) produce(ctx context.Context, key string, items [][2]string) (EntryID, error) {
	if len(items) == 0 {
		return EntryID{}, wrapKind(ctx, KindClient, errors.New("an entry needs at least one field"))
	}
	if err := c.checkCtx(ctx); err != nil {
		return EntryID{}, err
	}

	args := make([]string, 0, 2+2*len(items))
	args = append(args, key, serverAssignID)
	for _, item := range items {
		args = append(args, item[0], item[1])
	}

	var raw string
	if err := c.conn.Do(radix.Cmd(&raw, "XADD", args...)); err != nil {
		return EntryID{}, classifyCmdErr(ctx, err)
	}
	id, err := ParseEntryID(raw)
	if err != nil {
		return EntryID{}, wrapKind(ctx, KindProtocol, err)
	}
	return id, nil
}
