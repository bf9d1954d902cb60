// Package session drives an MSN Messenger login and everything that happens
// on the notification and switchboard connections afterwards.
//
// A Session and its switchboards are owned by one client.Executor. Every
// exported method must be called from that executor, use Executor.Post from
// other goroutines.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/passport"
	"github.com/luma/msnp/protocol"
	"github.com/luma/msnp/storage"
	"github.com/luma/msnp/transport"
)

const (
	DefaultDispatchServer = "messenger.hotmail.com:1863"
	DefaultKeepAlive      = 50 * time.Second
	DefaultClientVersion  = "6.0.0602"
	DefaultLocale         = "0x0409"
	DefaultClientName     = "msnp"

	// DefaultClientID advertises ink and multi-packet messaging support.
	DefaultClientID uint32 = 0x10000020
)

var (
	ErrAlreadyConnected  = errors.New("Session is already connected")
	ErrNotConnected      = errors.New("Session is not connected")
	ErrVersionRejected   = errors.New("Protocol not supported")
	ErrNoTicketIssuer    = errors.New("No ticket issuer configured for TWN authentication")
	ErrSignedInElsewhere = errors.New("You have signed on from another location")
	ErrServerShutdown    = errors.New("The server is going down for maintenance")
	ErrInvalidStatus     = errors.New("Invalid status")
	ErrMissingAccount    = errors.New("Account is required")
	ErrUnknownVersion    = errors.New("Unknown protocol version")
)

type Config struct {
	Account  string
	Password string

	// DispatchServer is the first host:port contacted.
	DispatchServer string

	// Versions are proposed in this order, most preferred first.
	Versions []string

	// Status is announced once logged in.
	Status contacts.Presence

	ClientID      uint32
	ClientVersion string
	Locale        string

	// ClientName is announced to switchboard peers.
	ClientName string

	// TransactionTimeout bounds every request, client.DefaultTimeout when 0.
	TransactionTimeout time.Duration

	// KeepAlive is the PNG interval.
	KeepAlive time.Duration
}

func (c Config) withDefaults() Config {
	if c.DispatchServer == "" {
		c.DispatchServer = DefaultDispatchServer
	}

	if len(c.Versions) == 0 {
		c.Versions = DefaultVersions
	}

	if c.Status == "" {
		c.Status = contacts.Online
	}

	if c.ClientID == 0 {
		c.ClientID = DefaultClientID
	}

	if c.ClientVersion == "" {
		c.ClientVersion = DefaultClientVersion
	}

	if c.Locale == "" {
		c.Locale = DefaultLocale
	}

	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}

	if c.TransactionTimeout <= 0 {
		c.TransactionTimeout = client.DefaultTimeout
	}

	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}

	return c
}

func (c Config) Validate() error {
	if c.Account == "" {
		return ErrMissingAccount
	}

	for _, name := range c.Versions {
		if _, ok := lookupVersion(name); !ok {
			return fmt.Errorf("%s: %w", name, ErrUnknownVersion)
		}
	}

	if c.Status == contacts.Offline || !c.Status.Valid() {
		return fmt.Errorf("%s: %w", c.Status, ErrInvalidStatus)
	}

	return nil
}

// Dialer opens the socket of a connection. Inbound bytes and the end of the
// stream are reported through handler from any goroutine.
type Dialer interface {
	Dial(ctx context.Context, addr string, handler transport.Handler) (client.Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string, handler transport.Handler) (client.Transport, error)

func (f DialerFunc) Dial(ctx context.Context, addr string, handler transport.Handler) (client.Transport, error) {
	return f(ctx, addr, handler)
}

// TCPDialer dials real servers through the transport package.
func TCPDialer(d *transport.Dialer) Dialer {
	return DialerFunc(func(ctx context.Context, addr string, handler transport.Handler) (client.Transport, error) {
		return d.Dial(ctx, addr, handler)
	})
}

type Option func(s *Session)

// WithStore remembers the buddy list between runs so the next login can
// report what changed on the server.
func WithStore(store storage.Store) Option {
	return func(s *Session) {
		s.store = store
	}
}

// WithTicketIssuer is required for MSNP8 and later.
func WithTicketIssuer(issuer passport.TicketIssuer) Option {
	return func(s *Session) {
		s.tickets = issuer
	}
}

// Session is one logged in account.
type Session struct {
	cfg Config

	exec    client.Executor
	dialer  Dialer
	ui      UI
	store   storage.Store
	tickets passport.TicketIssuer

	ctx    context.Context
	cancel context.CancelFunc

	state   State
	version version

	// ns is the dispatch connection until the first USR OK, then the
	// notification connection
	ns *client.Conn

	// loggedIn is set once Connected was reached, later redirects
	// re-announce the status instead of syncing again
	loggedIn bool

	friendlyName string
	status       contacts.Presence
	phones       map[string]string

	list       *contacts.List
	sync       *syncContext
	remembered *contacts.Snapshot
	lastListed string
	asked      map[string]struct{}

	switchboards   map[uuid.UUID]*Switchboard
	switchboardSeq uint64

	stopKeepAlive func() bool

	log *zap.Logger
}

func New(cfg Config, exec client.Executor, dialer Dialer, ui UI, log *zap.Logger, opts ...Option) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if ui == nil {
		ui = NopUI{}
	}

	s := &Session{
		cfg:          cfg,
		exec:         exec,
		dialer:       dialer,
		ui:           ui,
		ctx:          context.Background(),
		cancel:       func() {},
		status:       cfg.Status,
		friendlyName: cfg.Account,
		phones:       make(map[string]string),
		list:         contacts.NewList(),
		asked:        make(map[string]struct{}),
		switchboards: make(map[uuid.UUID]*Switchboard),
		log:          log.With(zap.String("account", cfg.Account)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Session) Account() string {
	return s.cfg.Account
}

func (s *Session) State() State {
	return s.state
}

// Version returns the negotiated protocol version, empty before VER.
func (s *Session) Version() string {
	if s.version == nil {
		return ""
	}

	return s.version.Name()
}

func (s *Session) FriendlyName() string {
	return s.friendlyName
}

func (s *Session) Status() contacts.Presence {
	return s.status
}

// Contacts returns the buddy list cache. Callers must not modify it.
func (s *Session) Contacts() *contacts.List {
	return s.list
}

// Switchboards returns the open switchboards ordered by creation.
func (s *Session) Switchboards() []*Switchboard {
	sbs := make([]*Switchboard, 0, len(s.switchboards))
	for _, sb := range s.switchboards {
		sbs = append(sbs, sb)
	}

	sort.Slice(sbs, func(i, j int) bool {
		return sbs[i].seq < sbs[j].seq
	})

	return sbs
}

// Connect starts the login. Progress and failures are reported through the
// UI.
func (s *Session) Connect(ctx context.Context) error {
	if s.state != Disconnected {
		return ErrAlreadyConnected
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loggedIn = false
	s.version = nil

	s.log.Info("Connecting", zap.String("server", s.cfg.DispatchServer))

	s.setState(Connecting)
	s.openServer(client.Dispatch, s.cfg.DispatchServer)

	return nil
}

// Disconnect logs out. It is safe to call in any state.
func (s *Session) Disconnect() {
	if s.ns != nil && s.ns.Attached() && s.ns.Ready() {
		out := client.NewTransaction(protocol.OUT)
		out.Flags = client.NoTrID
		_ = s.ns.SendNow(out)
	}

	s.disconnect("", nil)
}

// disconnect tears everything down and reports err, if any, exactly once.
func (s *Session) disconnect(title string, err error) {
	if s.state == Disconnected {
		return
	}

	wasConnected := s.state == Connected
	s.setState(Disconnected)

	if err != nil {
		s.log.Warn("Disconnecting", zap.String("reason", title), zap.Error(err))
	} else {
		s.log.Info("Disconnecting")
	}

	if s.stopKeepAlive != nil {
		s.stopKeepAlive()
		s.stopKeepAlive = nil
	}

	for _, sb := range s.Switchboards() {
		sb.close(ErrNotConnected)
	}

	if ns := s.ns; ns != nil {
		s.ns = nil
		ns.Close()
	}

	if wasConnected {
		s.saveSnapshot()
	}

	s.list.SetAllOffline()
	s.sync = nil
	s.remembered = nil

	s.cancel()

	if err != nil {
		s.ui.NotifyError(title, describe(err), s.cfg.Account)
	}
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}

	s.log.Debug("State changed", zap.Stringer("from", s.state), zap.Stringer("to", state))
	s.state = state
	s.ui.StateChanged(state)
}

// advance moves the login forward, never back.
func (s *Session) advance(state State) {
	if state > s.state {
		s.setState(state)
	}
}

func (s *Session) newTx(verb protocol.Verb, params ...string) *client.Transaction {
	tx := client.NewTransaction(verb, params...)
	tx.Timeout = s.cfg.TransactionTimeout
	return tx
}

// dial opens conn's socket off the executor and calls connected once it is
// attached.
func (s *Session) dial(conn *client.Conn, addr string, connected func()) {
	ctx := s.ctx

	s.exec.Async(func() func() {
		t, err := s.dialer.Dial(ctx, addr, transport.Handler{
			OnData: func(p []byte) {
				s.exec.Post(func() { conn.Receive(p) })
			},
			OnClose: func(err error) {
				s.exec.Post(func() { conn.TransportFailed(err) })
			},
		})

		return func() {
			if err != nil {
				conn.Fail(&client.TransportError{Role: conn.Role(), Err: err})
				return
			}

			if conn.Closed() {
				_ = t.Close()
				return
			}

			conn.Attach(t)
			connected()
		}
	})
}

// send writes tx on conn, which is nil once the session disconnected.
func (s *Session) send(conn *client.Conn, tx *client.Transaction) error {
	if conn == nil {
		return ErrNotConnected
	}

	return conn.Send(tx)
}

// reportError builds an error callback for user initiated requests.
func (s *Session) reportError(title string) client.ErrorFunc {
	return func(err error) {
		if errors.Is(err, client.ErrConnectionClosed) {
			// The disconnect is reported on its own
			return
		}

		var serr *protocol.ServerError
		if errors.As(err, &serr) && serr.Ignorable() {
			return
		}

		s.ui.NotifyError(title, describe(err), "")
	}
}

// describe turns an error into a sentence for the UI.
func describe(err error) string {
	var (
		serr *protocol.ServerError
		terr *client.TransportError
		perr *client.ProtocolError
	)

	switch {
	case errors.As(err, &serr):
		return serr.Text()
	case errors.Is(err, client.ErrTimeout):
		return "The server did not answer in time"
	case errors.As(err, &terr):
		return "Connection error: " + terr.Err.Error()
	case errors.As(err, &perr):
		return "Protocol error: " + perr.Err.Error()
	default:
		return err.Error()
	}
}
