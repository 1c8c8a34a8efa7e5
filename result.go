package redsumer

import (
	"context"
	"errors"
	"strings"

	"github.com/mediocregopher/mediocre-go-lib/v2/merr"
	"github.com/mediocregopher/radix/v3/resp/resp2"
)

// Kind classifies the failures which can come out of this package.
type Kind int

const (
	// KindTransport covers an unreachable server, a timed out or cancelled
	// round-trip, and failed authentication.
	KindTransport Kind = iota

	// KindProtocol covers replies which parsed but did not have the shape or
	// meaning the issued command calls for.
	KindProtocol

	// KindStreamMissing is returned when an operation requires pre-existing
	// stream state and found none.
	KindStreamMissing

	// KindClient covers misuse of the library, e.g. producing an entry with
	// no fields or reading against a group that was never created.
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindStreamMissing:
		return "stream missing"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every operation in this package. Use
// errors.As to recover it from a returned error.
type Error struct {
	Kind Kind
	Err  error
}

func (e Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap implements the method for the errors package.
func (e Error) Unwrap() error {
	return e.Err
}

func wrapKind(ctx context.Context, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return merr.Wrap(ctx, Error{Kind: kind, Err: err})
}

// classifyCmdErr maps an error returned by the connection onto the taxonomy.
// Server error replies are protocol-level failures except for the recognized
// signals; everything else came from the transport itself.
func classifyCmdErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "NOAUTH"),
		strings.HasPrefix(msg, "WRONGPASS"),
		strings.HasPrefix(msg, "ERR invalid password"):
		return wrapKind(ctx, KindTransport, err)
	case strings.HasPrefix(msg, "NOGROUP"),
		strings.HasPrefix(msg, "NOPERM"),
		strings.HasPrefix(msg, "ERR no such key"):
		return wrapKind(ctx, KindClient, err)
	}

	var respErr resp2.Error
	if errors.As(err, &respErr) {
		return wrapKind(ctx, KindProtocol, err)
	}
	return wrapKind(ctx, KindTransport, err)
}
