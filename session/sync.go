package session

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/protocol"
)

type syncContext struct {
	reply    syncReply
	consumed int
}

// done reports whether the download is complete after an entry.
func (c *syncContext) done(last bool) bool {
	if c.reply.Open {
		return last
	}

	return c.consumed >= c.reply.Count
}

// requestSync sends SYN with the version of the remembered list.
func (s *Session) requestSync(conn *client.Conn) {
	sent := 0
	if s.remembered != nil {
		sent = s.remembered.Version
	}

	tx := s.loginTx(conn, "Unable to retrieve buddy list", protocol.SYN, strconv.Itoa(sent))
	tx.OnReply(protocol.SYN, func(cmd *protocol.Command) {
		s.onSyncReply(conn, cmd, sent)
	})

	_ = s.send(conn, tx)
}

func (s *Session) onSyncReply(conn *client.Conn, cmd *protocol.Command, sent int) {
	reply, err := s.version.syncReply(cmd, sent)
	if err != nil {
		s.disconnect("Unable to retrieve buddy list", &client.ProtocolError{Role: conn.Role(), Err: err})
		return
	}

	if !reply.Open && reply.Count == 0 {
		// Nothing follows. An unchanged version means the remembered list
		// still is the server's list.
		if s.remembered == nil || s.remembered.Version == reply.Version {
			if s.remembered != nil {
				s.list.Restore(s.remembered)
				s.publishList()
			}

			s.remembered = nil
			s.list.Version = reply.Version
			s.loginComplete()

			return
		}

		// The server emptied the list since we last saw it
		s.list.Reset()
		s.list.Version = reply.Version
		s.sync = &syncContext{reply: reply}
		s.finishSync()

		return
	}

	s.log.Info("Downloading buddy list",
		zap.Int("version", reply.Version),
		zap.Int("entries", reply.Count),
		zap.Bool("open", reply.Open))

	s.sync = &syncContext{reply: reply}
	s.list.Reset()
	s.list.Version = reply.Version

	s.advance(Syncing)
	conn.SetDispatcher(client.Bind(syncTable, s, conn.Log()))
}

func (s *Session) onListEntry(cmd *protocol.Command, tx *client.Transaction) {
	if s.sync == nil {
		return
	}

	e, err := s.version.listEntry(cmd)
	if err != nil {
		s.log.Warn("Skipping malformed list entry", zap.Stringer("cmd", cmd), zap.Error(err))
	} else if !e.empty {
		s.list.AddToList(e.Passport, e.Friendly, e.Lists)
		s.lastListed = e.Passport

		for _, id := range e.Groups {
			if err := s.list.AddToGroup(e.Passport, id); err != nil {
				s.log.Debug("List entry names unknown group", zap.String("passport", e.Passport), zap.Int("group", id))
			}
		}
	}

	s.countEntry(e.last)
}

func (s *Session) onGroupEntry(cmd *protocol.Command, tx *client.Transaction) {
	if s.sync == nil {
		return
	}

	e, err := s.version.groupEntry(cmd)
	if err != nil {
		s.log.Warn("Skipping malformed group entry", zap.Stringer("cmd", cmd), zap.Error(err))
	} else if !e.empty {
		s.list.AddGroup(e.ID, e.Name)
	}

	s.countEntry(false)
}

func (s *Session) countEntry(last bool) {
	s.sync.consumed++

	if s.sync.done(last) {
		s.finishSync()
	}
}

// finishSync reports how the remembered list differs from the downloaded
// one, then completes the login.
func (s *Session) finishSync() {
	s.log.Info("Buddy list downloaded",
		zap.Int("entries", s.sync.consumed),
		zap.Int("buddies", s.list.Len()))

	s.sync = nil
	s.lastListed = ""

	current := s.list.Snapshot(s.cfg.Account)
	for _, inc := range contacts.Diff(s.remembered, current) {
		s.ui.ListInconsistency(inc)
	}

	s.remembered = nil

	s.publishList()
	s.loginComplete()
}

// publishList shows the whole cache to the UI.
func (s *Session) publishList() {
	for _, g := range s.list.Groups() {
		s.ui.GroupUpdated(g)
	}

	for _, u := range s.list.Users() {
		s.ui.BuddyUpdated(u)
	}
}
