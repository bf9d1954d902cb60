package transport

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AcceptFunc is called for every accepted connection and returns the handler
// for its read loop. The Conn is started once AcceptFunc returns.
type AcceptFunc func(conn *Conn) Handler

// Server accepts TCP connections on one or more SO_REUSEPORT listeners.
type Server struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	listeners    []*Listener

	accept AcceptFunc
	opts   ServerOptions

	log *zap.Logger
}

func NewServer(options ServerOptions, accept AcceptFunc) *Server {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		listeners:    make([]*Listener, 0, numListeners),
		accept:       accept,
		opts:         options,
		log:          log,
	}
}

// Start binds every listener and begins accepting. When the configured port
// is 0 the first listener picks a free port and the others share it.
func (w *Server) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel

	w.log.Info("Starting tcp listeners", zap.Int("count", w.numListeners))

	addr := w.addr
	for i := 0; i < w.numListeners; i++ {
		listener, err := w.startListener(ctx, addr)
		if err != nil {
			cancel()
			return multierr.Append(err, w.closeListeners())
		}

		addr = listener.Addr().String()
	}

	w.addr = addr

	return nil
}

// Addr returns the bound address once Start succeeded.
func (w *Server) Addr() string {
	return w.addr
}

func (w *Server) startListener(ctx context.Context, addr string) (*Listener, error) {
	listener, err := Listen(
		ctx,
		addr,
		w.accept,
		w.opts.Conn,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)
	if err != nil {
		return nil, err
	}

	w.listeners = append(w.listeners, listener)

	w.stopWaiter.Add(1)
	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Serve(); err != nil {
			w.log.Error("Failed to accept", zap.Error(err))
		}
	}()

	return listener, nil
}

// Close immediately closes all active listeners and connections.
func (w *Server) Close() error {
	w.log.Info("Stopping TCP server")

	if w.cancel != nil {
		w.cancel()
	}

	err := w.closeListeners()

	w.stopWaiter.Wait()
	w.log.Info("Listeners stopped")

	return err
}

func (w *Server) closeListeners() (err error) {
	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

// Listener accepts connections on a single socket and tracks them so they
// can be closed together.
type Listener struct {
	ctx context.Context

	listener net.Listener
	accept   AcceptFunc
	opts     Options

	mu          sync.Mutex
	activeConns map[*Conn]struct{}

	log *zap.Logger
}

func Listen(
	ctx context.Context,
	addr string,
	accept AcceptFunc,
	opts Options,
	log *zap.Logger,
) (*Listener, error) {
	listener, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	if opts.Log == nil {
		opts.Log = log.Named("conn")
	}

	return &Listener{
		ctx:         ctx,
		listener:    listener,
		accept:      accept,
		opts:        opts,
		activeConns: make(map[*Conn]struct{}),
		log:         log,
	}, nil
}

func (t *Listener) Addr() net.Addr {
	return t.listener.Addr()
}

// Serve accepts until the listener is closed.
func (t *Listener) Serve() error {
	go func() {
		<-t.ctx.Done()

		t.log.Debug("Closing listener")
		if err := t.listener.Close(); err != nil && !isClosedErr(err) {
			t.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				return nil
			}

			return err
		}

		tcpConn := NewConn(t.ctx, conn, Handler{}, t.opts)
		tcpConn.handler = t.accept(tcpConn)

		t.addConn(tcpConn)

		go func() {
			<-tcpConn.Done()
			t.removeConn(tcpConn)
		}()

		tcpConn.Start()
	}
}

// Close closes the listening socket and every active connection.
func (t *Listener) Close() (err error) {
	if cerr := t.listener.Close(); cerr != nil && !isClosedErr(cerr) {
		err = multierr.Append(err, cerr)
	}

	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

// Conns returns a snapshot of the active connections.
func (t *Listener) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns := make([]*Conn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}

	return conns
}

func (t *Listener) addConn(conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *Listener) removeConn(conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}
