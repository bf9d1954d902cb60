package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("Connection is closed")
	ErrQueueFull = errors.New("Write queue is full")
)

// Handler receives what the read loop observes. Both callbacks run on the
// read loop goroutine, so they should hand work off rather than block.
type Handler struct {
	// OnData receives a copy of every chunk read from the socket.
	OnData func(p []byte)

	// OnClose is called once when the read side ends, unless the connection
	// was closed locally first. err is io.EOF on an orderly remote close.
	OnClose func(err error)
}

// Conn is a TCP connection with a read loop feeding a Handler and a write
// loop draining a write queue.
type Conn struct {
	ctx         context.Context
	cancel      context.CancelFunc
	readWaiter  sync.WaitGroup
	writeWaiter sync.WaitGroup
	closeOnce   sync.Once

	conn net.Conn

	writeQueue chan []byte

	handler Handler
	opts    Options

	log *zap.Logger
}

func NewConn(
	parentCtx context.Context,
	conn net.Conn,
	handler Handler,
	opts Options,
) *Conn {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(parentCtx)

	return &Conn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		writeQueue: make(chan []byte, opts.WriteQueueSize),
		handler:    handler,
		opts:       opts,
		log:        opts.Log.With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

// Start runs the read and write loops in the background.
func (t *Conn) Start() {
	t.readWaiter.Add(1)
	t.writeWaiter.Add(1)

	go func() {
		defer t.readWaiter.Done()
		t.ReadLoop()
	}()

	go func() {
		defer t.writeWaiter.Done()
		t.WriteLoop()
	}()
}

// Close stops both loops and closes the socket. Writes queued before Close
// are flushed for at most Options.FlushTimeout. It is safe to call more than
// once.
func (t *Conn) Close() error {
	var err error

	t.closeOnce.Do(func() {
		t.cancel()
		t.writeWaiter.Wait()

		// Unblocks a pending Read
		err = t.conn.Close()

		t.readWaiter.Wait()
	})

	if err != nil && isClosedErr(err) {
		return nil
	}

	return err
}

// Done is closed once the connection stopped running.
func (t *Conn) Done() <-chan struct{} {
	return t.ctx.Done()
}

func (t *Conn) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *Conn) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *Conn) ReadLoop() {
	log := t.log.Named("readLoop")

	defer func() {
		log.Debug("Read loop exited")
	}()

	buf := make([]byte, t.opts.ReadBufferSize)

	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			if t.opts.Trace {
				log.Debug("READ", zap.ByteString("data", buf[:n]))
			}

			if t.handler.OnData != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				t.handler.OnData(chunk)
			}
		}

		if err == nil {
			continue
		}

		if !t.isRunning() {
			// Closed locally, nobody needs to hear about it
			return
		}

		if errors.Is(err, io.EOF) {
			log.Info("Remote closed the connection")
		} else {
			log.Warn("Failed to read from connection", zap.Error(err))
		}

		t.cancel()

		if t.handler.OnClose != nil {
			t.handler.OnClose(err)
		}

		return
	}
}

func (t *Conn) WriteLoop() {
	log := t.log.Named("writeLoop")

	defer func() {
		log.Debug("Write loop exited")
	}()

	for {
		select {
		case <-t.ctx.Done():
			t.flush(log)
			return

		case data := <-t.writeQueue:
			if t.opts.Trace {
				log.Debug("WRITE", zap.ByteString("data", data))
			}

			if _, err := t.conn.Write(data); err != nil {
				if !t.isRunning() {
					return
				}

				log.Warn("Failed to write from write queue", zap.Error(err))

				// A failed write leaves the stream in an unknown state, the
				// read side reports the failure
				t.conn.Close()
				return
			}
		}
	}
}

// flush writes what is still queued once the connection is closing.
func (t *Conn) flush(log *zap.Logger) {
	if len(t.writeQueue) == 0 {
		return
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.FlushTimeout)); err != nil {
		return
	}

	for {
		select {
		case data := <-t.writeQueue:
			if _, err := t.conn.Write(data); err != nil {
				log.Debug("Dropping queued writes", zap.Error(err), zap.Int("queued", len(t.writeQueue)))
				return
			}

		default:
			return
		}
	}
}

// Write queues data for the write loop. It never blocks: a peer that stops
// reading long enough to fill Options.WriteQueueSize gets ErrQueueFull.
func (t *Conn) Write(data []byte) error {
	if !t.isRunning() {
		return ErrClosed
	}

	select {
	case t.writeQueue <- data:
		return nil

	case <-t.ctx.Done():
		return ErrClosed

	default:
		t.log.Warn("Write queue is full", zap.Int("queued", len(t.writeQueue)))
		return ErrQueueFull
	}
}

// isRunning returns true if Close has not been called
func (t *Conn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		// if we can read on this channel then it's been closed
		return false

	default:
		return true
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}
