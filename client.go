package redsumer

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/mediocregopher/radix/v3"
)

// Protocol selects the wire framing the connection negotiates with the
// server. It is forwarded to the connection layer at dial time and never
// inspected again.
type Protocol int

const (
	// ProtocolRESP2 is the legacy text framing every server speaks. It is
	// the default.
	ProtocolRESP2 Protocol = iota

	// ProtocolRESP3 is the newer typed framing, negotiated with a HELLO
	// exchange during dial. It requires a server which speaks it; if the
	// exchange fails the dial fails.
	ProtocolRESP3
)

// Credentials authenticate the connection to the server. Leave User empty
// for servers using the single-argument AUTH form.
type Credentials struct {
	User     string
	Password string
}

// String implements fmt.Stringer, redacting the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{User:%q, Password:\"****\"}", c.User)
}

// ClientArgs carries the parameters used to build a connection, following
// the connection URL form `redis://[<user>][:<password>@]<host>:<port>/<db>`.
// The zero value connects to 127.0.0.1:6379, database 0, unauthenticated,
// over RESP2.
type ClientArgs struct {
	// Credentials to authenticate to the server, or nil if it requires
	// none.
	Credentials *Credentials

	Host string
	Port int

	// DB is the database number selected at dial time.
	DB int

	// Protocol version to communicate with the server.
	Protocol Protocol

	// PoolSize is the number of connections kept in the pool.
	PoolSize int
}

func (a *ClientArgs) fillDefaults() {
	if a.Host == "" {
		a.Host = "127.0.0.1"
	}
	if a.Port == 0 {
		a.Port = 6379
	}
	if a.PoolSize == 0 {
		a.PoolSize = 4
	}
}

func (a ClientArgs) addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Conn is the capability set this package requires from a connection: one
// logical client which serializes command round-trips. A radix pool or
// single connection satisfies it.
type Conn interface {
	Do(a radix.Action) error
	Close() error
}

// dial builds a pooled connection per args. Authentication, database
// selection and protocol negotiation all happen per-connection inside the
// pool's dial function.
func dial(ctx context.Context, args ClientArgs) (Conn, error) {
	args.fillDefaults()

	connFunc := func(network, addr string) (radix.Conn, error) {
		opts := []radix.DialOpt{radix.DialSelectDB(args.DB)}
		if args.Credentials != nil && args.Credentials.User == "" {
			opts = append(opts, radix.DialAuthPass(args.Credentials.Password))
		}
		conn, err := radix.Dial(network, addr, opts...)
		if err != nil {
			return nil, err
		}
		if args.Credentials != nil && args.Credentials.User != "" {
			err := conn.Do(radix.Cmd(nil, "AUTH", args.Credentials.User, args.Credentials.Password))
			if err != nil {
				conn.Close()
				return nil, err
			}
		}
		if args.Protocol == ProtocolRESP3 {
			if err := conn.Do(radix.Cmd(nil, "HELLO", "3")); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}

	pool, err := radix.NewPool("tcp", args.addr(), args.PoolSize, radix.PoolConnFunc(connFunc))
	if err != nil {
		return nil, wrapKind(ctx, KindTransport, err)
	}
	return pool, nil
}

// ping performs the one round-trip connectivity probe required before any
// producer or consumer is handed to the caller.
func ping(ctx context.Context, conn Conn) error {
	if err := ctx.Err(); err != nil {
		return wrapKind(ctx, KindTransport, err)
	}
	var pong string
	if err := conn.Do(radix.Cmd(&pong, "PING")); err != nil {
		return wrapKind(ctx, KindTransport, err)
	}
	if pong != "PONG" {
		return wrapKind(ctx, KindProtocol, fmt.Errorf("unexpected PING reply %q", pong))
	}
	return nil
}
