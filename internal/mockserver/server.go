// Package mockserver is a scriptable MSN server used to exercise the client
// over real sockets. Handlers are registered per verb and run on the
// connection's read loop.
package mockserver

import (
	"bytes"
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/msnp/protocol"
	"github.com/luma/msnp/transport"
)

// HandlerFunc answers one command received from a client.
type HandlerFunc func(c *Conn, cmd *protocol.Command)

type Server struct {
	srv *transport.Server

	mu       sync.Mutex
	handlers map[protocol.Verb]HandlerFunc
	received []string
	conns    []*Conn

	log *zap.Logger
}

func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		handlers: make(map[protocol.Verb]HandlerFunc),
		log:      log,
	}

	s.srv = transport.NewServer(transport.ServerOptions{
		Host:         "127.0.0.1",
		NumListeners: 1,
		Log:          log.Named("transport"),
	}, s.accept)

	return s
}

// Handle registers h for verb, replacing any previous handler.
func (s *Server) Handle(verb protocol.Verb, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[verb] = h
}

func (s *Server) Start(ctx context.Context) error {
	return s.srv.Start(ctx)
}

// Addr is the host:port clients dial.
func (s *Server) Addr() string {
	return s.srv.Addr()
}

func (s *Server) Close() error {
	return s.srv.Close()
}

// Received returns every command line received so far, across connections.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.received...)
}

// Conns returns the connections accepted so far in accept order.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Conn(nil), s.conns...)
}

func (s *Server) accept(tc *transport.Conn) transport.Handler {
	c := &Conn{
		server:  s,
		tc:      tc,
		decoder: protocol.NewDecoder(payloadLength),
		log:     s.log.With(zap.String("remote", tc.RemoteAddr().String())),
	}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	return transport.Handler{
		OnData: c.receive,
		OnClose: func(err error) {
			c.log.Debug("Client went away", zap.Error(err))
		},
	}
}

func (s *Server) handler(verb protocol.Verb) (HandlerFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handlers[verb]
	return h, ok
}

func (s *Server) record(cmd *protocol.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received = append(s.received, cmd.String())
}

// payloadLength also knows QRY, which only clients send.
func payloadLength(cmd *protocol.Command) (int, bool, error) {
	if cmd.Verb == protocol.QRY {
		n, err := strconv.Atoi(cmd.Param(len(cmd.Params) - 1))
		if err != nil {
			return 0, true, protocol.ErrInvalidPayloadLength
		}

		return n, true, nil
	}

	return protocol.DefaultPayloadLength(cmd)
}

// Conn is one client connection. It is only used from its read loop and
// from handlers.
type Conn struct {
	server  *Server
	tc      *transport.Conn
	decoder *protocol.Decoder

	log *zap.Logger
}

func (c *Conn) receive(p []byte) {
	_, _ = c.decoder.Write(p)

	for {
		cmd, err := c.decoder.Next()
		if err != nil {
			c.log.Warn("Client sent garbage", zap.Error(err))
			c.Hangup()
			return
		}

		if cmd == nil {
			return
		}

		c.server.record(cmd)

		h, ok := c.server.handler(cmd.Verb)
		if !ok {
			c.log.Debug("No handler", zap.Stringer("cmd", cmd))
			continue
		}

		h(c, cmd)
	}
}

// Reply writes a line echoing the id of cmd, "VERB trid params".
func (c *Conn) Reply(cmd *protocol.Command, params ...string) error {
	id, _ := cmd.TrID()
	return c.Send(cmd.Verb, append([]string{strconv.FormatUint(uint64(id), 10)}, params...)...)
}

// Send writes a line exactly as given.
func (c *Conn) Send(verb protocol.Verb, params ...string) error {
	var buf bytes.Buffer
	if err := protocol.WriteReply(&buf, verb, params...); err != nil {
		return err
	}

	return c.tc.Write(buf.Bytes())
}

// SendPayload writes "VERB params len" followed by payload.
func (c *Conn) SendPayload(verb protocol.Verb, payload []byte, params ...string) error {
	var buf bytes.Buffer
	if err := protocol.WriteCommand(&buf, 0, verb, params, payload); err != nil {
		return err
	}

	return c.tc.Write(buf.Bytes())
}

// Hangup closes the connection. Handlers run on the read loop, which Close
// waits for, so it closes in the background.
func (c *Conn) Hangup() {
	go func() {
		if err := c.tc.Close(); err != nil {
			c.log.Debug("Connection did not close cleanly", zap.Error(err))
		}
	}()
}
