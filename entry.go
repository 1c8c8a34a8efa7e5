package redsumer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mediocregopher/mediocre-go-lib/v2/mctx"
	"github.com/mediocregopher/radix/v3/resp/resp2"
)

// Entry is a single stream entry: a server-assigned id plus the field/value
// mapping it was produced with. Entries are immutable views over server
// state.
type Entry struct {
	ID     EntryID
	Fields map[string]string
}

// UnmarshalRESP implements the method for the resp.Unmarshaler interface. A
// nil array in place of an entry (an id which was deleted from the stream
// while still pending) unmarshals to the zero Entry.
func (e *Entry) UnmarshalRESP(br *bufio.Reader) error {
	var ah resp2.ArrayHeader
	if err := ah.UnmarshalRESP(br); err != nil {
		return err
	}
	if ah.N < 0 {
		*e = Entry{}
		return nil
	}
	if ah.N != 2 {
		return errors.New("invalid stream entry reply")
	}
	if err := e.ID.UnmarshalRESP(br); err != nil {
		return err
	}
	e.Fields = nil
	return (resp2.Any{I: &e.Fields}).UnmarshalRESP(br)
}

// Field returns the raw value of the named field and whether it was present
// on the entry.
func (e Entry) Field(name string) (string, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

func (e Entry) fieldErr(ctx context.Context, name, as string, err error) error {
	ctx = mctx.Annotate(ctx, "entryID", e.ID.String(), "field", name)
	if err == nil {
		err = errors.New("field not present on entry")
	} else {
		err = errors.New("field value is not a valid " + as + ": " + err.Error())
	}
	return wrapKind(ctx, KindClient, err)
}

// StringField returns the named field, erroring if the entry doesn't carry
// it.
func (e Entry) StringField(ctx context.Context, name string) (string, error) {
	v, ok := e.Fields[name]
	if !ok {
		return "", e.fieldErr(ctx, name, "", nil)
	}
	return v, nil
}

// BytesField returns the named field as raw bytes.
func (e Entry) BytesField(ctx context.Context, name string) ([]byte, error) {
	v, err := e.StringField(ctx, name)
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

// Int64Field decodes the named field as a signed decimal integer.
func (e Entry) Int64Field(ctx context.Context, name string) (int64, error) {
	v, err := e.StringField(ctx, name)
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, e.fieldErr(ctx, name, "int64", err)
	}
	return i, nil
}

// Uint64Field decodes the named field as an unsigned decimal integer.
func (e Entry) Uint64Field(ctx context.Context, name string) (uint64, error) {
	v, err := e.StringField(ctx, name)
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, e.fieldErr(ctx, name, "uint64", err)
	}
	return u, nil
}

// Float64Field decodes the named field as a float.
func (e Entry) Float64Field(ctx context.Context, name string) (float64, error) {
	v, err := e.StringField(ctx, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, e.fieldErr(ctx, name, "float64", err)
	}
	return f, nil
}

// BoolField decodes the named field as a boolean, accepting the forms
// strconv.ParseBool accepts.
func (e Entry) BoolField(ctx context.Context, name string) (bool, error) {
	v, err := e.StringField(ctx, name)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, e.fieldErr(ctx, name, "bool", err)
	}
	return b, nil
}

// TimeField decodes the named field as a timestamp. RFC3339, RFC1123 and
// unix millisecond integer forms are accepted.
func (e Entry) TimeField(ctx context.Context, name string) (time.Time, error) {
	v, err := e.StringField(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC(), nil
	}
	return time.Time{}, e.fieldErr(ctx, name, "timestamp", errors.New("unrecognized format"))
}

// UUIDField decodes the named field as a UUID.
func (e Entry) UUIDField(ctx context.Context, name string) (uuid.UUID, error) {
	v, err := e.StringField(ctx, name)
	if err != nil {
		return uuid.UUID{}, err
	}
	u, err := uuid.Parse(v)
	if err != nil {
		return uuid.UUID{}, e.fieldErr(ctx, name, "uuid", err)
	}
	return u, nil
}

// JSONField unmarshals the named field into dst.
func (e Entry) JSONField(ctx context.Context, name string, dst interface{}) error {
	v, err := e.StringField(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return e.fieldErr(ctx, name, "json document", err)
	}
	return nil
}
