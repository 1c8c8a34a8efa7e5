package redsumer

import (
	"bufio"
	"errors"
	"strconv"
	"strings"

	"github.com/mediocregopher/radix/v3/resp/resp2"
)

// BeginningOfTimeID addresses the position before any possible entry. It
// seeds consumer group creation and both in-process cursors.
const BeginningOfTimeID = "0-0"

// serverAssignID is the XADD sentinel asking the server to mint the entry id
// from its current clock.
const serverAssignID = "*"

// newEntriesCursor is the XREADGROUP cursor meaning "strictly greater than
// the group's delivery high-watermark".
const newEntriesCursor = ">"

// EntryID identifies an entry within a stream. The server assigns ids in
// strictly increasing order, so two EntryIDs from the same stream compare the
// way the entries were appended.
type EntryID struct {
	// Time is the unix millisecond timestamp part of the id.
	Time uint64

	// Seq distinguishes entries appended within the same millisecond.
	Seq uint64
}

// ParseEntryID parses the wire form "<ms>-<seq>", where both parts are
// unsigned decimal integers.
func ParseEntryID(s string) (EntryID, error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return EntryID{}, errors.New("malformed stream entry id: " + strconv.Quote(s))
	}
	t, err := strconv.ParseUint(s[:dash], 10, 64)
	if err != nil {
		return EntryID{}, errors.New("malformed stream entry id: " + strconv.Quote(s))
	}
	seq, err := strconv.ParseUint(s[dash+1:], 10, 64)
	if err != nil {
		return EntryID{}, errors.New("malformed stream entry id: " + strconv.Quote(s))
	}
	return EntryID{Time: t, Seq: seq}, nil
}

func (id EntryID) String() string {
	return strconv.FormatUint(id.Time, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// IsZero returns true for the zero EntryID, whose wire form is
// BeginningOfTimeID.
func (id EntryID) IsZero() bool {
	return id.Time == 0 && id.Seq == 0
}

// Before returns true if id was assigned before other.
func (id EntryID) Before(other EntryID) bool {
	if id.Time != other.Time {
		return id.Time < other.Time
	}
	return id.Seq < other.Seq
}

// UnmarshalRESP implements the method for the resp.Unmarshaler interface.
func (id *EntryID) UnmarshalRESP(br *bufio.Reader) error {
	var bs resp2.BulkString
	if err := bs.UnmarshalRESP(br); err != nil {
		return err
	}
	parsed, err := ParseEntryID(bs.S)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
