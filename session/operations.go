package session

import (
	"strconv"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/protocol"
)

// NoGroup leaves a buddy outside any group.
const NoGroup = -1

func (s *Session) notification() (*client.Conn, error) {
	if s.state == Disconnected || s.ns == nil {
		return nil, ErrNotConnected
	}

	return s.ns, nil
}

// SetStatus changes our presence. Before login completes it only changes
// what will be announced.
func (s *Session) SetStatus(status contacts.Presence) error {
	if !status.Valid() || status == contacts.Offline {
		return ErrInvalidStatus
	}

	s.status = status

	if s.state != Connected {
		return nil
	}

	s.announce()
	return nil
}

// SetFriendlyName sends REA trid account name.
func (s *Session) SetFriendlyName(name string) error {
	ns, err := s.notification()
	if err != nil {
		return err
	}

	tx := s.newTx(protocol.REA, s.cfg.Account, protocol.URLEncode(name))
	tx.OnError = s.reportError("Unable to change friendly name")

	return s.send(ns, tx)
}

// AddBuddy puts passport on the forward list, into group unless it is
// NoGroup, and allows it to see us.
func (s *Session) AddBuddy(passport string, group int) error {
	if _, err := s.notification(); err != nil {
		return err
	}

	params := []string{contacts.Forward.Code(), passport, passport}
	if group != NoGroup {
		params = append(params, strconv.Itoa(group))
	}

	tx := s.newTx(protocol.ADD, params...)
	tx.OnError = s.reportError("Unable to add buddy")

	if err := s.send(s.ns, tx); err != nil {
		return err
	}

	if u, err := s.list.User(passport); err == nil && (u.Lists.Has(contacts.Allow) || u.Lists.Has(contacts.Block)) {
		return nil
	}

	return s.addToList(contacts.Allow, passport, passport)
}

// RemoveBuddy takes passport off the forward list, or only out of group
// unless it is NoGroup.
func (s *Session) RemoveBuddy(passport string, group int) error {
	params := []string{contacts.Forward.Code(), passport}
	if group != NoGroup {
		params = append(params, strconv.Itoa(group))
	}

	return s.listRequest(protocol.REM, "Unable to remove buddy", params...)
}

// MoveBuddy moves passport from one group to another.
func (s *Session) MoveBuddy(passport string, from, to int) error {
	u, err := s.list.User(passport)
	if err != nil {
		return err
	}

	if err := s.listRequest(protocol.ADD, "Unable to move buddy",
		contacts.Forward.Code(), passport, protocol.URLEncode(u.FriendlyName), strconv.Itoa(to)); err != nil {
		return err
	}

	return s.RemoveBuddy(passport, from)
}

// Block moves passport from the allow to the block list.
func (s *Session) Block(passport string) error {
	return s.moveList(passport, contacts.Allow, contacts.Block)
}

// Unblock moves passport from the block to the allow list.
func (s *Session) Unblock(passport string) error {
	return s.moveList(passport, contacts.Block, contacts.Allow)
}

func (s *Session) moveList(passport string, from, to contacts.Lists) error {
	friendly := passport
	if u, err := s.list.User(passport); err == nil {
		friendly = u.FriendlyName

		if u.Lists.Has(from) {
			if err := s.listRequest(protocol.REM, "Unable to change privacy", from.Code(), passport); err != nil {
				return err
			}
		}
	}

	return s.addToList(to, passport, friendly)
}

func (s *Session) addToList(list contacts.Lists, passport, friendly string) error {
	return s.listRequest(protocol.ADD, "Unable to change privacy", list.Code(), passport, protocol.URLEncode(friendly))
}

// AddGroup sends ADG trid name 0.
func (s *Session) AddGroup(name string) error {
	return s.listRequest(protocol.ADG, "Unable to add group", protocol.URLEncode(name), "0")
}

// RenameGroup sends REG trid id name 0.
func (s *Session) RenameGroup(id int, name string) error {
	if _, err := s.list.Group(id); err != nil {
		return err
	}

	return s.listRequest(protocol.REG, "Unable to rename group", strconv.Itoa(id), protocol.URLEncode(name), "0")
}

// RemoveGroup sends RMG trid id.
func (s *Session) RemoveGroup(id int) error {
	if _, err := s.list.Group(id); err != nil {
		return err
	}

	return s.listRequest(protocol.RMG, "Unable to remove group", strconv.Itoa(id))
}

// listRequest sends a list change. The reply goes through the notification
// table like the server pushed it.
func (s *Session) listRequest(verb protocol.Verb, title string, params ...string) error {
	ns, err := s.notification()
	if err != nil {
		return err
	}

	tx := s.newTx(verb, params...)
	tx.OnError = s.reportError(title)

	return s.send(ns, tx)
}

// InboxURL asks for the Hotmail inbox URL, URL trid INBOX. fn runs on the
// executor.
func (s *Session) InboxURL(fn func(url string, err error)) error {
	ns, err := s.notification()
	if err != nil {
		return err
	}

	tx := s.newTx(protocol.URL, "INBOX")
	tx.OnReply(protocol.URL, func(cmd *protocol.Command) {
		// URL trid rru login-url id
		fn(cmd.Param(2), nil)
	})
	tx.OnError = func(err error) {
		fn("", err)
	}

	return s.send(ns, tx)
}
