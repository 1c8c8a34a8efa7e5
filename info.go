package redsumer

import (
	"context"
	"errors"
	"time"

	"github.com/mediocregopher/radix/v3"
)

// StreamInfo summarizes the server-side state of a stream.
type StreamInfo struct {
	// Length is the number of entries currently in the stream.
	Length int64

	// LastGeneratedID is the largest id the server has assigned on the
	// stream, even if that entry was deleted since.
	LastGeneratedID EntryID

	// Groups is the number of consumer groups reading the stream.
	Groups int64

	// FirstEntry and LastEntry bound the entries currently held. Nil when
	// the stream is empty.
	FirstEntry *Entry
	LastEntry  *Entry
}

// GroupInfo summarizes one consumer group of a stream.
type GroupInfo struct {
	Name string

	// Consumers is the number of consumers known to the group.
	Consumers int64

	// Pending is the total number of entries delivered to the group's
	// consumers and not yet acknowledged.
	Pending int64

	// LastDeliveredID is the group's delivery high-watermark.
	LastDeliveredID EntryID
}

// ConsumerInfo summarizes one consumer of a group.
type ConsumerInfo struct {
	Name string

	// Pending is the number of entries in this consumer's pending list.
	Pending int64

	// Idle is the time elapsed since the consumer's last interaction with
	// the server.
	Idle time.Duration
}

func infoString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}

func infoInt(v interface{}) (int64, bool) {
	i, ok := v.(int64)
	return i, ok
}

func infoID(v interface{}) (EntryID, bool) {
	s, ok := infoString(v)
	if !ok {
		return EntryID{}, false
	}
	id, err := ParseEntryID(s)
	if err != nil {
		return EntryID{}, false
	}
	return id, true
}

// infoPairs walks a flat [field, value, field, value, ...] reply array.
func infoPairs(v interface{}, fn func(field string, value interface{})) bool {
	arr, ok := v.([]interface{})
	if !ok || len(arr)%2 != 0 {
		return false
	}
	for i := 0; i < len(arr); i += 2 {
		field, ok := infoString(arr[i])
		if !ok {
			return false
		}
		fn(field, arr[i+1])
	}
	return true
}

// infoEntry rebuilds an [id, [field value ...]] element from a generically
// decoded reply.
func infoEntry(v interface{}) (*Entry, bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, false
	}
	id, ok := infoID(arr[0])
	if !ok {
		return nil, false
	}
	fieldArr, ok := arr[1].([]interface{})
	if !ok || len(fieldArr)%2 != 0 {
		return nil, false
	}
	fields := make(map[string]string, len(fieldArr)/2)
	for i := 0; i < len(fieldArr); i += 2 {
		f, fok := infoString(fieldArr[i])
		val, vok := infoString(fieldArr[i+1])
		if !fok || !vok {
			return nil, false
		}
		fields[f] = val
	}
	return &Entry{ID: id, Fields: fields}, true
}

func (c commands) xinfo(ctx context.Context, rcv *interface{}, args ...string) error {
	if err := c.checkCtx(ctx); err != nil {
		return err
	}
	if err := c.conn.Do(radix.Cmd(rcv, "XINFO", args...)); err != nil {
		return classifyCmdErr(ctx, err)
	}
	return nil
}

// StreamInfo returns a summary of the stream this consumer reads. Fields
// reported by server versions this package doesn't know about are ignored.
func (c *Consumer) StreamInfo(ctx context.Context) (StreamInfo, error) {
	ctx = c.annotate(ctx)

	var raw interface{}
	if err := c.cmds.xinfo(ctx, &raw, "STREAM", c.cfg.Stream); err != nil {
		return StreamInfo{}, err
	}

	var info StreamInfo
	ok := infoPairs(raw, func(field string, value interface{}) {
		switch field {
		case "length":
			info.Length, _ = infoInt(value)
		case "last-generated-id":
			info.LastGeneratedID, _ = infoID(value)
		case "groups":
			info.Groups, _ = infoInt(value)
		case "first-entry":
			info.FirstEntry, _ = infoEntry(value)
		case "last-entry":
			info.LastEntry, _ = infoEntry(value)
		}
	})
	if !ok {
		return StreamInfo{}, wrapKind(ctx, KindProtocol, errors.New("invalid XINFO STREAM reply"))
	}
	return info, nil
}

// GroupsInfo returns a summary of every consumer group reading this
// consumer's stream.
func (c *Consumer) GroupsInfo(ctx context.Context) ([]GroupInfo, error) {
	ctx = c.annotate(ctx)

	var raw interface{}
	if err := c.cmds.xinfo(ctx, &raw, "GROUPS", c.cfg.Stream); err != nil {
		return nil, err
	}

	rows, ok := raw.([]interface{})
	if !ok {
		return nil, wrapKind(ctx, KindProtocol, errors.New("invalid XINFO GROUPS reply"))
	}
	groups := make([]GroupInfo, 0, len(rows))
	for _, row := range rows {
		var g GroupInfo
		if !infoPairs(row, func(field string, value interface{}) {
			switch field {
			case "name":
				g.Name, _ = infoString(value)
			case "consumers":
				g.Consumers, _ = infoInt(value)
			case "pending":
				g.Pending, _ = infoInt(value)
			case "last-delivered-id":
				g.LastDeliveredID, _ = infoID(value)
			}
		}) {
			return nil, wrapKind(ctx, KindProtocol, errors.New("invalid XINFO GROUPS reply"))
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// ConsumersInfo returns a summary of every consumer registered in this
// consumer's group.
func (c *Consumer) ConsumersInfo(ctx context.Context) ([]ConsumerInfo, error) {
	ctx = c.annotate(ctx)

	var raw interface{}
	if err := c.cmds.xinfo(ctx, &raw, "CONSUMERS", c.cfg.Stream, c.cfg.Group); err != nil {
		return nil, err
	}

	rows, ok := raw.([]interface{})
	if !ok {
		return nil, wrapKind(ctx, KindProtocol, errors.New("invalid XINFO CONSUMERS reply"))
	}
	consumers := make([]ConsumerInfo, 0, len(rows))
	for _, row := range rows {
		var ci ConsumerInfo
		if !infoPairs(row, func(field string, value interface{}) {
			switch field {
			case "name":
				ci.Name, _ = infoString(value)
			case "pending":
				ci.Pending, _ = infoInt(value)
			case "idle":
				ms, _ := infoInt(value)
				ci.Idle = time.Duration(ms) * time.Millisecond
			}
		}) {
			return nil, wrapKind(ctx, KindProtocol, errors.New("invalid XINFO CONSUMERS reply"))
		}
		consumers = append(consumers, ci)
	}
	return consumers, nil
}
