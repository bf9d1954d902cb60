package session

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/protocol"
)

func (s *Session) ignore(cmd *protocol.Command, tx *client.Transaction) {}

// announce sends our status, CHG trid NLN clientid.
func (s *Session) announce() {
	tx := s.newTx(protocol.CHG, s.version.presenceParams(s.status, s.cfg.ClientID)...)
	tx.OnError = s.reportError("Unable to change status")

	_ = s.send(s.ns, tx)
}

// loginComplete finishes the first login on this session.
func (s *Session) loginComplete() {
	s.loggedIn = true
	s.ns.SetDispatcher(client.Bind(notificationTable, s, s.ns.Log()))

	s.advance(Connected)
	s.log.Info("Logged in", zap.Int("buddies", s.list.Len()), zap.Int("listVersion", s.list.Version))

	s.announce()
	s.startKeepAlive()
	s.saveSnapshot()
	s.requestAuthorizations()
}

func (s *Session) startKeepAlive() {
	if s.stopKeepAlive != nil {
		s.stopKeepAlive()
	}

	s.stopKeepAlive = s.exec.AfterFunc(s.cfg.KeepAlive, s.ping)
}

func (s *Session) ping() {
	s.stopKeepAlive = nil

	if s.state != Connected || s.ns == nil {
		return
	}

	tx := client.NewTransaction(protocol.PNG)
	tx.Flags = client.NoTrID
	_ = s.ns.Send(tx)

	s.startKeepAlive()
}

// QNG seconds
func (s *Session) onPong(cmd *protocol.Command, tx *client.Transaction) {
	s.log.Debug("Keepalive answered", zap.String("next", cmd.Param(0)))
}

// CHL 0 challenge
func (s *Session) onChallenge(cmd *protocol.Command, tx *client.Transaction) {
	reply := s.newTx(protocol.QRY, protocol.ChallengeProductID)
	reply.Payload = protocol.ChallengeResponse(cmd.Param(1))
	reply.OnError = func(err error) {
		s.log.Warn("Challenge reply failed", zap.Error(err))
	}

	_ = s.send(s.ns, reply)
}

// ILN trid status passport friendly [clientid [object]]
func (s *Session) onInitialPresence(cmd *protocol.Command, tx *client.Transaction) {
	s.setPresence(cmd.Params[1:])
}

// NLN status passport friendly [clientid [object]]
func (s *Session) onPresence(cmd *protocol.Command, tx *client.Transaction) {
	s.setPresence(cmd.Params)
}

func (s *Session) setPresence(params []string) {
	if len(params) < 2 {
		s.log.Warn("Short presence update", zap.Strings("params", params))
		return
	}

	status := contacts.Presence(params[0])
	if !status.Valid() {
		s.log.Warn("Unknown presence", zap.String("status", params[0]))
		return
	}

	friendly := ""
	if len(params) > 2 {
		friendly = protocol.URLDecode(params[2])
	}

	u := s.list.Ensure(params[1], friendly)
	u.Presence = status

	if len(params) > 3 {
		if id, err := strconv.ParseUint(params[3], 10, 32); err == nil {
			u.ClientID = uint32(id)
		}
	}

	if len(params) > 4 {
		u.DisplayObject = protocol.URLDecode(params[4])
	}

	s.ui.BuddyUpdated(u)
}

// FLN passport
func (s *Session) onOffline(cmd *protocol.Command, tx *client.Transaction) {
	u, err := s.list.User(cmd.Param(0))
	if err != nil {
		s.log.Debug("Offline notice for unknown user", zap.String("passport", cmd.Param(0)))
		return
	}

	u.Presence = contacts.Offline
	s.ui.BuddyUpdated(u)
}

// CHG trid status clientid
func (s *Session) onStatusChanged(cmd *protocol.Command, tx *client.Transaction) {
	status := contacts.Presence(cmd.Param(1))
	if status.Valid() {
		s.status = status
	}
}

// ADD trid list version passport friendly [group]
func (s *Session) onListAdd(cmd *protocol.Command, tx *client.Transaction) {
	list, ok := contacts.ParseList(cmd.Param(1))
	if !ok {
		s.log.Warn("ADD for unknown list", zap.Stringer("cmd", cmd))
		return
	}

	s.setListVersion(cmd.Param(2))

	passport, friendly := cmd.Param(3), protocol.URLDecode(cmd.Param(4))
	u := s.list.AddToList(passport, friendly, list)

	if group := cmd.Param(5); group != "" && list == contacts.Forward {
		if id, err := strconv.Atoi(group); err == nil {
			if err := s.list.AddToGroup(passport, id); err != nil {
				s.log.Warn("Buddy added to unknown group", zap.String("passport", passport), zap.Int("group", id))
			}
		}
	}

	s.ui.BuddyUpdated(u)

	if list == contacts.Reverse && s.state == Connected {
		s.requestAuthorization(u)
	}
}

// REM trid list version passport [group]
func (s *Session) onListRemove(cmd *protocol.Command, tx *client.Transaction) {
	list, ok := contacts.ParseList(cmd.Param(1))
	if !ok {
		s.log.Warn("REM for unknown list", zap.Stringer("cmd", cmd))
		return
	}

	s.setListVersion(cmd.Param(2))
	passport := cmd.Param(3)

	if group := cmd.Param(4); group != "" && list == contacts.Forward {
		id, err := strconv.Atoi(group)
		if err != nil {
			return
		}

		if err := s.list.RemoveFromGroup(passport, id); err != nil {
			s.log.Debug("Group removal for unknown user", zap.String("passport", passport))
			return
		}

		if u, err := s.list.User(passport); err == nil {
			s.ui.BuddyUpdated(u)
		}

		return
	}

	u, removed, err := s.list.RemoveFromList(passport, list)
	if err != nil {
		s.log.Debug("List removal for unknown user", zap.String("passport", passport))
		return
	}

	if removed {
		delete(s.asked, u.Passport)
		s.ui.BuddyRemoved(u.Passport)
		return
	}

	s.ui.BuddyUpdated(u)
}

// ADG trid version name id 0
func (s *Session) onGroupAdd(cmd *protocol.Command, tx *client.Transaction) {
	s.setListVersion(cmd.Param(1))

	id, err := strconv.Atoi(cmd.Param(3))
	if err != nil {
		s.log.Warn("ADG with bad group id", zap.Stringer("cmd", cmd))
		return
	}

	s.ui.GroupUpdated(s.list.AddGroup(id, protocol.URLDecode(cmd.Param(2))))
}

// RMG trid version id
func (s *Session) onGroupRemove(cmd *protocol.Command, tx *client.Transaction) {
	s.setListVersion(cmd.Param(1))

	id, err := strconv.Atoi(cmd.Param(2))
	if err != nil {
		return
	}

	if err := s.list.RemoveGroup(id); err != nil {
		s.log.Debug("Removal of unknown group", zap.Int("group", id))
		return
	}

	s.ui.GroupRemoved(id)
}

// REG trid version id name 0
func (s *Session) onGroupRename(cmd *protocol.Command, tx *client.Transaction) {
	s.setListVersion(cmd.Param(1))

	id, err := strconv.Atoi(cmd.Param(2))
	if err != nil {
		return
	}

	s.ui.GroupUpdated(s.list.AddGroup(id, protocol.URLDecode(cmd.Param(3))))
}

// REA trid version passport friendly
func (s *Session) onRename(cmd *protocol.Command, tx *client.Transaction) {
	s.setListVersion(cmd.Param(1))

	passport, friendly := cmd.Param(2), protocol.URLDecode(cmd.Param(3))
	if passport == s.cfg.Account {
		s.friendlyName = friendly
		return
	}

	if u, err := s.list.User(passport); err == nil {
		u.FriendlyName = friendly
		s.ui.BuddyUpdated(u)
	}
}

// BPR version passport type number. During a list download the short form
// BPR type number refers to the buddy listed last.
func (s *Session) onBuddyPhone(cmd *protocol.Command, tx *client.Transaction) {
	passport, kind, number := cmd.Param(1), cmd.Param(2), cmd.Param(3)
	if len(cmd.Params) < 4 {
		passport, kind, number = s.lastListed, cmd.Param(0), cmd.Param(1)
	} else {
		s.setListVersion(cmd.Param(0))
	}

	u, err := s.list.User(passport)
	if err != nil {
		return
	}

	switch kind {
	case "MOB":
		u.MobileEnabled = number == "Y"
	case contacts.PhoneHome, contacts.PhoneWork, contacts.PhoneMobile:
		u.Phones[kind] = protocol.URLDecode(number)
	}

	if s.sync == nil {
		s.ui.BuddyUpdated(u)
	}
}

// PRP trid version type value, or PRP type value during the download.
func (s *Session) onOwnProperty(cmd *protocol.Command, tx *client.Transaction) {
	params := cmd.Params
	if len(params) >= 4 {
		params = params[2:]
	}

	if len(params) < 1 {
		return
	}

	value := ""
	if len(params) > 1 {
		value = protocol.URLDecode(params[1])
	}

	if params[0] == "MFN" {
		s.friendlyName = value
		return
	}

	s.phones[params[0]] = value
}

// BLP [trid version] AL|BL
func (s *Session) onPrivacy(cmd *protocol.Command, tx *client.Transaction) {
	s.list.AllowUnknown = cmd.Param(len(cmd.Params)-1) == "AL"
}

// GTC [trid version] A|N
func (s *Session) onReverseListPrompt(cmd *protocol.Command, tx *client.Transaction) {
	s.list.PromptOnReverse = cmd.Param(len(cmd.Params)-1) == "A"
}

// RNG session host:port CKI authkey passport friendly
func (s *Session) onRing(cmd *protocol.Command, tx *client.Transaction) {
	if len(cmd.Params) < 5 {
		s.log.Warn("Short RNG", zap.Stringer("cmd", cmd))
		return
	}

	s.answer(cmd.Param(0), cmd.Param(1), cmd.Param(3), cmd.Param(4))
}

// XFR 0 NS host:port moves the notification connection mid session.
func (s *Session) onTransfer(cmd *protocol.Command, tx *client.Transaction) {
	if cmd.Param(1) != "NS" {
		s.log.Warn("Unexpected XFR", zap.Stringer("cmd", cmd))
		return
	}

	s.transfer(cmd.Param(2))
}

func (s *Session) setListVersion(v string) {
	if n, err := strconv.Atoi(v); err == nil && n > s.list.Version {
		s.list.Version = n
	}
}

func (s *Session) onProfile(cmd *protocol.Command, msg *protocol.Message) {
	fields := msg.BodyFields()
	s.log.Debug("Profile received",
		zap.String("country", fields["country"]),
		zap.String("clientIP", fields["ClientIP"]))
}

func (s *Session) onInitialMail(cmd *protocol.Command, msg *protocol.Message) {
	fields := msg.BodyFields()

	unread, err := strconv.Atoi(fields["Inbox-Unread"])
	if err != nil || unread == 0 {
		return
	}

	s.ui.MailNotification(Mail{
		Unread: unread,
		URL:    fields["Inbox-URL"],
	})
}

func (s *Session) onMail(cmd *protocol.Command, msg *protocol.Message) {
	fields := msg.BodyFields()

	s.ui.MailNotification(Mail{
		From:    fields["From"],
		Address: fields["From-Addr"],
		Subject: fields["Subject"],
		Folder:  fields["Dest-Folder"],
		URL:     fields["Message-URL"],
	})
}

func (s *Session) onSystemMessage(cmd *protocol.Command, msg *protocol.Message) {
	fields := msg.BodyFields()

	if fields["Type"] != "1" {
		s.log.Debug("Ignoring system message", zap.String("type", fields["Type"]))
		return
	}

	s.ui.NotifyInfo("Server maintenance",
		fmt.Sprintf("The MSN server will shut down for maintenance in %s minutes.", fields["Arg1"]))
}

// requestAuthorizations asks about everyone who added us while we were away.
func (s *Session) requestAuthorizations() {
	for _, u := range s.list.Users() {
		s.requestAuthorization(u)
	}
}

func (s *Session) requestAuthorization(u *contacts.User) {
	if !u.NeedsAuthorization() || !s.list.PromptOnReverse {
		return
	}

	if _, ok := s.asked[u.Passport]; ok {
		return
	}

	s.asked[u.Passport] = struct{}{}

	passport, friendly := u.Passport, u.FriendlyName

	s.ui.RequestChoice(Choice{
		Title:   "Authorization request",
		Text:    fmt.Sprintf("The user %s (%s) wants to add you to their buddy list.", passport, friendly),
		Options: []string{"Authorize", "Deny"},
		Answer: func(option int) {
			s.exec.Post(func() {
				list := contacts.Allow
				if option != 0 {
					list = contacts.Block
				}

				if err := s.addToList(list, passport, friendly); err != nil {
					s.log.Warn("Failed to answer authorization request", zap.Error(err))
				}
			})
		},
	})
}
