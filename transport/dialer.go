package transport

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// Dialer opens client connections to MSN servers.
type Dialer struct {
	opts Options
}

func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts.withDefaults()}
}

// Dial connects to addr ("host:port") and starts the read and write loops.
// The connection lives until Close is called or ctx is cancelled.
func (d *Dialer) Dial(ctx context.Context, addr string, handler Handler) (*Conn, error) {
	nd := net.Dialer{
		Timeout:   d.opts.DialTimeout,
		KeepAlive: d.opts.KeepAlive,
	}

	d.opts.Log.Debug("Dialing", zap.String("addr", addr))

	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("Failed to dial %s: %w", addr, err)
	}

	c := NewConn(ctx, conn, handler, d.opts)
	c.Start()

	return c, nil
}
