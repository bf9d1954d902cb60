package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/protocol"
	"github.com/luma/msnp/storage"
)

// openServer connects the dispatch or notification role and starts over at
// VER.
func (s *Session) openServer(role client.Role, addr string) {
	var conn *client.Conn

	conn = client.NewConn(role, s.exec, s.log,
		client.WithCloseHandler(func(err error) {
			s.serverClosed(conn, err)
		}),
		client.WithServerErrorHandler(func(serr *protocol.ServerError, tx *client.Transaction) {
			s.serverError(conn, serr)
		}),
	)
	conn.SetDispatcher(client.Bind(loginTable, s, conn.Log()))

	s.ns = conn

	conn.Log().Info("Opening server connection", zap.String("addr", addr))
	s.dial(conn, addr, func() {
		s.negotiateVersion(conn)
	})
}

func (s *Session) serverClosed(conn *client.Conn, err error) {
	if conn != s.ns {
		// Replaced by a redirect, or closed by disconnect
		return
	}

	s.ns = nil

	if err == nil {
		return
	}

	s.disconnect("Connection lost", err)
}

// serverError handles errors nothing else claimed.
func (s *Session) serverError(conn *client.Conn, serr *protocol.ServerError) {
	if conn != s.ns {
		return
	}

	switch {
	case serr.Ignorable():
		conn.Log().Debug("Ignoring server error", zap.Int("code", serr.Code))

	case serr.Severity() == protocol.Fatal:
		s.disconnect("Server error", serr)

	default:
		s.ui.NotifyError("MSN error", serr.Text(), "")
	}
}

// loginFailed is the error callback of every login step. Transactions of a
// connection that was already replaced are ignored.
func (s *Session) loginFailed(conn *client.Conn, title string) client.ErrorFunc {
	return func(err error) {
		if conn != s.ns {
			return
		}

		s.disconnect(title, err)
	}
}

func (s *Session) loginTx(conn *client.Conn, title string, verb protocol.Verb, params ...string) *client.Transaction {
	tx := s.newTx(verb, params...)
	tx.Flags |= client.Critical
	tx.OnError = s.loginFailed(conn, title)
	return tx
}

func (s *Session) negotiateVersion(conn *client.Conn) {
	params := append(append([]string(nil), s.cfg.Versions...), "CVR0")

	tx := s.loginTx(conn, "Unable to connect", protocol.VER, params...)
	tx.OnReply(protocol.VER, func(cmd *protocol.Command) {
		s.onVersion(conn, cmd)
	})

	_ = conn.SendNow(tx)
}

// VER trid MSNP9 CVR0
func (s *Session) onVersion(conn *client.Conn, cmd *protocol.Command) {
	var accepted version

	if len(cmd.Params) < 2 {
		s.disconnect("Unable to connect", ErrVersionRejected)
		return
	}

	for _, offered := range cmd.Params[1:] {
		for _, name := range s.cfg.Versions {
			if offered != name {
				continue
			}

			if v, ok := lookupVersion(name); ok && accepted == nil {
				accepted = v
			}
		}
	}

	if accepted == nil {
		s.disconnect("Unable to connect", ErrVersionRejected)
		return
	}

	if s.version != nil && s.version.Name() != accepted.Name() {
		conn.Log().Warn("Server switched protocol version on redirect",
			zap.String("was", s.version.Name()),
			zap.String("now", accepted.Name()))
	}

	s.version = accepted
	s.advance(VersionNegotiated)

	conn.Log().Info("Protocol version negotiated", zap.String("version", accepted.Name()))

	tx := accepted.clientInfo(&s.cfg)
	tx.Timeout = s.cfg.TransactionTimeout
	tx.Flags |= client.Critical
	tx.OnError = s.loginFailed(conn, "Unable to connect")
	tx.OnReply(tx.Verb, func(cmd *protocol.Command) {
		if cmd.Verb == protocol.INF && cmd.Param(1) != s.version.authMethod() {
			s.disconnect("Unable to connect", errors.New("Server does not offer MD5 authentication"))
			return
		}

		s.authenticate(conn)
	})

	_ = conn.SendNow(tx)
}

func (s *Session) authenticate(conn *client.Conn) {
	s.advance(Authenticating)

	tx := s.loginTx(conn, "Unable to authenticate", protocol.USR, s.version.authMethod(), "I", s.cfg.Account)
	tx.OnReply(protocol.USR, func(cmd *protocol.Command) {
		s.onAuth(conn, cmd)
	})
	tx.OnReply(protocol.XFR, func(cmd *protocol.Command) {
		s.onRedirect(conn, cmd)
	})

	_ = conn.SendNow(tx)
}

// onAuth handles both the challenge, USR trid TWN|MD5 S <challenge>, and the
// final USR trid OK account friendly.
func (s *Session) onAuth(conn *client.Conn, cmd *protocol.Command) {
	switch {
	case cmd.Param(1) == "OK":
		s.authenticated(conn, cmd)

	case cmd.Param(2) == "S" && cmd.Param(1) == "TWN":
		s.fetchTicket(conn, cmd.Param(3))

	case cmd.Param(2) == "S" && cmd.Param(1) == "MD5":
		s.sendCredential(conn, protocol.MD5Password(cmd.Param(3), s.cfg.Password))

	default:
		s.disconnect("Unable to authenticate", &client.ProtocolError{Role: conn.Role(), Err: ErrMalformedCommand})
	}
}

func (s *Session) fetchTicket(conn *client.Conn, challenge string) {
	if s.tickets == nil {
		s.disconnect("Unable to authenticate", ErrNoTicketIssuer)
		return
	}

	ctx := s.ctx
	account, password := s.cfg.Account, s.cfg.Password

	s.exec.Async(func() func() {
		ticket, err := s.tickets.Ticket(ctx, account, password, challenge)

		return func() {
			if conn != s.ns || conn.Closed() {
				return
			}

			if err != nil {
				s.disconnect("Unable to authenticate", err)
				return
			}

			s.sendCredential(conn, ticket)
		}
	})
}

func (s *Session) sendCredential(conn *client.Conn, credential string) {
	tx := s.loginTx(conn, "Unable to authenticate", protocol.USR, s.version.authMethod(), "S", credential)
	tx.OnReply(protocol.USR, func(cmd *protocol.Command) {
		s.onAuth(conn, cmd)
	})

	_ = conn.SendNow(tx)
}

// XFR trid NS host:port 0 host:port
func (s *Session) onRedirect(conn *client.Conn, cmd *protocol.Command) {
	if cmd.Param(1) != "NS" || cmd.Param(2) == "" {
		s.disconnect("Unable to connect", &client.ProtocolError{Role: conn.Role(), Err: ErrMalformedCommand})
		return
	}

	s.transfer(cmd.Param(2))
}

// transfer replaces the notification connection. The contact list,
// switchboards and state are left alone.
func (s *Session) transfer(addr string) {
	if s.stopKeepAlive != nil {
		s.stopKeepAlive()
		s.stopKeepAlive = nil
	}

	if old := s.ns; old != nil {
		s.ns = nil
		old.Close()
	}

	s.log.Info("Transferred to notification server", zap.String("addr", addr))

	s.advance(Transferred)
	s.openServer(client.Notification, addr)
}

// authenticated handles USR OK. A dispatch server answering OK itself also
// serves notifications.
func (s *Session) authenticated(conn *client.Conn, cmd *protocol.Command) {
	if conn.Role() == client.Dispatch {
		conn.Log().Info("Dispatch server also serves notifications")
		conn.SetRole(client.Notification)
	}

	if name := cmd.Param(3); name != "" {
		s.friendlyName = protocol.URLDecode(name)
	}

	s.advance(Transferred)

	conn.SetDispatcher(client.Bind(notificationTable, s, conn.Log()))
	conn.SetReady()

	if s.loggedIn {
		s.log.Info("Notification connection restored")
		s.announce()
		s.startKeepAlive()
		return
	}

	s.loadRemembered(func() {
		s.requestSync(conn)
	})
}

// loadRemembered fetches the snapshot saved by the last session.
func (s *Session) loadRemembered(then func()) {
	if s.store == nil {
		then()
		return
	}

	ctx := s.ctx
	account := s.cfg.Account

	s.exec.Async(func() func() {
		snap, err := s.store.Load(ctx, account)

		return func() {
			if s.state == Disconnected {
				return
			}

			switch {
			case err == nil:
				s.remembered = snap
			case errors.Is(err, storage.ErrNotFound):
				s.log.Debug("No remembered buddy list")
			default:
				s.log.Warn("Failed to load remembered buddy list", zap.Error(err))
			}

			then()
		}
	})
}

// saveSnapshot persists the list off the executor.
func (s *Session) saveSnapshot() {
	if s.store == nil {
		return
	}

	snap := s.list.Snapshot(s.cfg.Account)
	store, log := s.store, s.log

	// Saving also happens while disconnecting, after the session context
	// was cancelled
	ctx := context.WithoutCancel(s.ctx)

	s.exec.Async(func() func() {
		if err := store.Save(ctx, snap); err != nil {
			return func() {
				log.Warn("Failed to save buddy list", zap.Error(err))
			}
		}

		return nil
	})
}

// onSignOut handles OUT OTH and OUT SSD.
func (s *Session) onSignOut(cmd *protocol.Command, tx *client.Transaction) {
	switch cmd.Param(0) {
	case "OTH":
		s.disconnect("Signed off", ErrSignedInElsewhere)
	case "SSD":
		s.disconnect("Signed off", ErrServerShutdown)
	default:
		s.disconnect("Signed off", errors.New("The server closed the session"))
	}
}
