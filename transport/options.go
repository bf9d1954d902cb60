package transport

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultDialTimeout    = 30 * time.Second
	DefaultReadBufferSize = 4096
	DefaultWriteQueueSize = 127
	DefaultFlushTimeout   = time.Second
)

type Options struct {
	// DialTimeout bounds connection establishment
	DialTimeout time.Duration

	// KeepAlive is the TCP keepalive period, 0 keeps the system default
	KeepAlive time.Duration

	ReadBufferSize int

	WriteQueueSize int

	// FlushTimeout bounds writing what is still queued on Close
	FlushTimeout time.Duration

	// Trace will dump every chunk read and written at debug level. This is only
	// useful in local debugging
	Trace bool

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}

	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}

	if o.WriteQueueSize <= 0 {
		o.WriteQueueSize = DefaultWriteQueueSize
	}

	if o.FlushTimeout <= 0 {
		o.FlushTimeout = DefaultFlushTimeout
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

type ServerOptions struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// NumListeners is the number of SO_REUSEPORT listeners sharing the port
	NumListeners int

	Conn Options

	Log *zap.Logger
}
