package client

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/msnp/protocol"
)

// Role is the kind of server a Connection talks to.
type Role int

const (
	Dispatch Role = iota
	Notification
	Switchboard
)

func (r Role) String() string {
	switch r {
	case Dispatch:
		return "dispatch"
	case Notification:
		return "notification"
	case Switchboard:
		return "switchboard"
	default:
		return "unknown"
	}
}

// Transport is the socket a Connection writes to. Inbound bytes are fed to
// the Connection with Receive.
type Transport interface {
	Write(p []byte) error
	Close() error
}

// Conn is one logical connection to a server. It owns the decoder, the
// transaction tracker and the dispatcher binding, and must only be used from
// its Executor.
type Conn struct {
	id   uuid.UUID
	role Role

	exec      Executor
	transport Transport

	decoder    *protocol.Decoder
	tracker    *Tracker
	dispatcher Dispatcher

	closed bool

	onClose       func(err error)
	onServerError func(err *protocol.ServerError, tx *Transaction)

	log *zap.Logger
}

type ConnOption func(c *Conn)

// WithCloseHandler is called exactly once when the connection closes. err is
// nil for a local Close.
func WithCloseHandler(fn func(err error)) ConnOption {
	return func(c *Conn) {
		c.onClose = fn
	}
}

// WithServerErrorHandler receives server errors that neither a transaction
// nor the dispatcher claimed.
func WithServerErrorHandler(fn func(err *protocol.ServerError, tx *Transaction)) ConnOption {
	return func(c *Conn) {
		c.onServerError = fn
	}
}

// WithPayloadLength replaces the decoder's payload convention.
func WithPayloadLength(fn protocol.PayloadLengthFunc) ConnOption {
	return func(c *Conn) {
		c.decoder = protocol.NewDecoder(fn)
	}
}

func NewConn(role Role, exec Executor, log *zap.Logger, opts ...ConnOption) *Conn {
	id := uuid.New()

	c := &Conn{
		id:      id,
		role:    role,
		exec:    exec,
		decoder: protocol.NewDecoder(nil),
		log:     log.With(zap.Stringer("role", role), zap.String("conn", id.String())),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.tracker = NewTracker(exec, c.write, c.Fail, c.log.Named("tracker"))

	return c
}

func (c *Conn) ID() uuid.UUID {
	return c.id
}

func (c *Conn) Role() Role {
	return c.role
}

// SetRole changes the role, used when a dispatch server turns out to also
// serve notifications.
func (c *Conn) SetRole(role Role) {
	c.role = role
}

func (c *Conn) Log() *zap.Logger {
	return c.log
}

func (c *Conn) Tracker() *Tracker {
	return c.tracker
}

// Attach sets the transport once dialing succeeded.
func (c *Conn) Attach(t Transport) {
	c.transport = t
}

func (c *Conn) Attached() bool {
	return c.transport != nil
}

func (c *Conn) Closed() bool {
	return c.closed
}

// SetDispatcher swaps the dispatcher binding. The sync engine uses it to
// install its own table for the duration of the list download.
func (c *Conn) SetDispatcher(d Dispatcher) {
	c.log.Debug("Installing dispatcher", zap.String("table", d.Name()))
	c.dispatcher = d
}

func (c *Conn) Dispatcher() Dispatcher {
	return c.dispatcher
}

func (c *Conn) Ready() bool {
	return c.tracker.Ready()
}

// SetReady flushes transactions queued while the connection was not ready.
func (c *Conn) SetReady() {
	if err := c.tracker.SetReady(); err != nil {
		c.Fail(&TransportError{Role: c.role, Err: err})
	}
}

// Send queues tx until the connection is ready.
func (c *Conn) Send(tx *Transaction) error {
	if c.closed {
		return ErrConnectionClosed
	}

	if err := c.tracker.Send(tx); err != nil {
		terr := &TransportError{Role: c.role, Err: err}
		c.Fail(terr)
		return terr
	}

	return nil
}

// SendNow writes tx even if the connection is not ready yet.
func (c *Conn) SendNow(tx *Transaction) error {
	if c.closed {
		return ErrConnectionClosed
	}

	if err := c.tracker.SendNow(tx); err != nil {
		terr := &TransportError{Role: c.role, Err: err}
		c.Fail(terr)
		return terr
	}

	return nil
}

func (c *Conn) write(trID uint32, verb protocol.Verb, params []string, payload []byte) error {
	if c.transport == nil {
		return ErrNotConnected
	}

	data := protocol.AppendCommand(nil, trID, verb, params, payload)

	c.log.Debug("Writing command",
		zap.Stringer("verb", verb),
		zap.Uint32("trid", trID),
		zap.Int("payload", len(payload)))

	return c.transport.Write(data)
}

// Receive feeds bytes read from the transport and handles every complete
// command they contain.
func (c *Conn) Receive(p []byte) {
	if c.closed {
		return
	}

	c.decoder.Write(p)

	for !c.closed {
		cmd, err := c.decoder.Next()
		if err != nil {
			c.Fail(&ProtocolError{Role: c.role, Err: err})
			return
		}

		if cmd == nil {
			return
		}

		c.handle(cmd)
	}
}

func (c *Conn) handle(cmd *protocol.Command) {
	c.log.Debug("Received command", zap.Stringer("cmd", cmd))

	if cmd.IsError() {
		c.handleError(cmd)
		return
	}

	var routes RouteFunc
	if c.dispatcher != nil {
		routes = c.dispatcher.Routes
	}

	tx := c.tracker.Match(cmd, routes)
	if tx != nil {
		if fn, ok := tx.Replies[cmd.Verb]; ok {
			fn(cmd)
			return
		}
	}

	if c.dispatcher == nil {
		c.log.Warn("No dispatcher installed, dropping command", zap.Stringer("cmd", cmd))
		return
	}

	c.dispatcher.Dispatch(cmd, tx)
}

func (c *Conn) handleError(cmd *protocol.Command) {
	serr := protocol.NewServerError(cmd)
	tx := c.tracker.MatchError(cmd)

	if tx != nil && tx.OnError != nil {
		tx.OnError(serr)
		return
	}

	if c.dispatcher != nil && c.dispatcher.DispatchError(serr, tx) {
		return
	}

	if c.onServerError != nil {
		c.onServerError(serr, tx)
		return
	}

	c.log.Warn("Unhandled server error", zap.Int("code", serr.Code), zap.String("text", serr.Text()))
}

// Fail closes the connection because of err and reports it to the close
// handler.
func (c *Conn) Fail(err error) {
	if c.closed {
		return
	}

	c.closed = true

	if err != nil {
		c.log.Warn("Connection failed", zap.Error(err))
	}

	if c.transport != nil {
		if cerr := c.transport.Close(); cerr != nil {
			c.log.Debug("Transport did not close cleanly", zap.Error(cerr))
		}
	}

	c.tracker.Abort(ErrConnectionClosed)

	if c.onClose != nil {
		c.onClose(err)
	}
}

// Close closes the connection locally.
func (c *Conn) Close() {
	c.Fail(nil)
}

// TransportFailed is called when the read side of the transport ends.
func (c *Conn) TransportFailed(err error) {
	if err == nil {
		err = errors.New("connection closed by peer")
	}

	c.Fail(&TransportError{Role: c.role, Err: err})
}
