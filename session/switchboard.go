package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/protocol"
)

var (
	ErrConversationClosed = errors.New("Conversation is closed")
	ErrNotDelivered       = errors.New("The message was not delivered")
)

// Switchboard is one conversation connection. It starts as a one to one
// conversation and becomes a chat, for good, once a second remote
// participant joins.
type Switchboard struct {
	id  uuid.UUID
	seq uint64

	s    *Session
	conn *client.Conn

	state   SwitchboardState
	invited bool

	addr      string
	authKey   string
	sessionID string

	// target is called once an originated switchboard is authenticated,
	// calls collects invitations made before that
	target string
	calls  []string

	participants  []string
	chat          bool
	created       bool
	authenticated bool

	log *zap.Logger
}

func (s *Session) newSwitchboard(invited bool) *Switchboard {
	s.switchboardSeq++

	sb := &Switchboard{
		id:      uuid.New(),
		seq:     s.switchboardSeq,
		s:       s,
		invited: invited,
	}

	sb.log = s.log.Named("switchboard").With(zap.String("switchboard", sb.id.String()))

	sb.conn = client.NewConn(client.Switchboard, s.exec, sb.log,
		client.WithCloseHandler(sb.connClosed),
		client.WithServerErrorHandler(sb.serverError),
	)
	sb.conn.SetDispatcher(client.Bind(switchboardTable, sb, sb.log))

	s.switchboards[sb.id] = sb

	return sb
}

// StartConversation returns the open one to one conversation with passport,
// or requests a new switchboard for it. Messages sent before the buddy
// joined are queued.
func (s *Session) StartConversation(passport string) (*Switchboard, error) {
	if s.state != Connected || s.ns == nil {
		return nil, ErrNotConnected
	}

	for _, sb := range s.Switchboards() {
		if sb.talksTo(passport) {
			return sb, nil
		}
	}

	sb := s.newSwitchboard(false)
	sb.target = passport
	sb.request()

	return sb, nil
}

// answer joins a switchboard we were invited to with RNG.
func (s *Session) answer(sessionID, addr, authKey, inviter string) {
	sb := s.newSwitchboard(true)
	sb.sessionID = sessionID
	sb.addr = addr
	sb.authKey = authKey

	sb.log.Info("Invited to conversation", zap.String("by", inviter))
	sb.connect()
}

func (sb *Switchboard) ID() uuid.UUID {
	return sb.id
}

func (sb *Switchboard) State() SwitchboardState {
	return sb.state
}

// Chat reports whether the switchboard was promoted to a multi party chat.
func (sb *Switchboard) Chat() bool {
	return sb.chat
}

func (sb *Switchboard) Invited() bool {
	return sb.invited
}

// Participants returns the remote participants in join order.
func (sb *Switchboard) Participants() []string {
	return append([]string(nil), sb.participants...)
}

func (sb *Switchboard) talksTo(passport string) bool {
	if sb.chat || sb.state == Closed {
		return false
	}

	if len(sb.participants) == 0 {
		return strings.EqualFold(sb.target, passport)
	}

	return len(sb.participants) == 1 && strings.EqualFold(sb.participants[0], passport)
}

func (sb *Switchboard) has(passport string) bool {
	return sb.index(passport) >= 0
}

func (sb *Switchboard) index(passport string) int {
	for i, p := range sb.participants {
		if strings.EqualFold(p, passport) {
			return i
		}
	}

	return -1
}

// request asks the notification server for a switchboard, XFR trid SB.
func (sb *Switchboard) request() {
	sb.state = Requested

	tx := sb.s.newTx(protocol.XFR, "SB")
	tx.OnReply(protocol.XFR, sb.onTransfer)
	tx.OnError = sb.requestFailed

	if err := sb.s.send(sb.s.ns, tx); err != nil {
		sb.requestFailed(err)
	}
}

// XFR trid SB host:port CKI authkey
func (sb *Switchboard) onTransfer(cmd *protocol.Command) {
	if sb.state != Requested {
		return
	}

	if cmd.Param(1) != "SB" || cmd.Param(2) == "" {
		sb.fail("Unable to start conversation", &client.ProtocolError{Role: client.Notification, Err: ErrMalformedCommand})
		return
	}

	sb.addr = cmd.Param(2)
	sb.authKey = cmd.Param(4)
	sb.connect()
}

func (sb *Switchboard) requestFailed(err error) {
	if sb.state == Closed {
		return
	}

	var serr *protocol.ServerError
	if errors.As(err, &serr) {
		switch serr.Code {
		case protocol.CodeNotAllowedOffline:
			sb.log.Warn("Switchboard refused while appearing offline")
		case protocol.CodeTooFast:
			sb.log.Warn("Switchboard requests are rate limited")
		}
	}

	sb.fail("Unable to start conversation", err)
}

func (sb *Switchboard) connect() {
	sb.state = SwitchboardConnecting
	sb.log.Debug("Connecting switchboard", zap.String("addr", sb.addr))

	sb.s.dial(sb.conn, sb.addr, sb.authenticate)
}

// authenticate sends USR for originated and ANS for invited switchboards.
func (sb *Switchboard) authenticate() {
	sb.state = SwitchboardAuthenticating

	account := sb.s.cfg.Account

	var tx *client.Transaction
	if sb.invited {
		tx = sb.s.newTx(protocol.ANS, account, sb.authKey, sb.sessionID)
		tx.OnReply(protocol.ANS, func(*protocol.Command) {
			sb.authenticated = true
			sb.maybeReady()
		})
	} else {
		tx = sb.s.newTx(protocol.USR, account, sb.authKey)
		tx.OnReply(protocol.USR, func(*protocol.Command) {
			sb.authenticated = true

			calls := append([]string{sb.target}, sb.calls...)
			sb.calls = nil

			for _, passport := range calls {
				if passport != "" {
					sb.call(passport)
				}
			}
		})
	}

	tx.Flags |= client.Critical
	tx.OnError = func(err error) {
		sb.fail("Unable to join conversation", err)
	}

	_ = sb.conn.SendNow(tx)
}

// call invites passport, CAL trid passport.
func (sb *Switchboard) call(passport string) {
	tx := sb.s.newTx(protocol.CAL, passport)
	tx.OnReply(protocol.CAL, func(cmd *protocol.Command) {
		sb.log.Debug("Ringing", zap.String("passport", passport), zap.String("status", cmd.Param(1)))
	})
	tx.OnError = func(err error) {
		sb.callFailed(passport, err)
	}

	_ = sb.conn.SendNow(tx)
}

func (sb *Switchboard) callFailed(passport string, err error) {
	if sb.state == Closed || errors.Is(err, client.ErrConnectionClosed) {
		return
	}

	var serr *protocol.ServerError
	switch {
	case errors.As(err, &serr) && serr.Code == protocol.CodeAlreadyThere:
		return

	case errors.As(err, &serr) && serr.Code == protocol.CodeUserOffline:
		sb.s.ui.NotifyError("Unable to start conversation",
			fmt.Sprintf("%s is offline and cannot receive messages.", passport), "")

	default:
		sb.s.ui.NotifyError("Unable to invite", describe(err), passport)
	}

	if len(sb.participants) == 0 {
		sb.close(err)
	}
}

// maybeReady flushes the queued messages once we are authenticated and
// somebody is there to read them.
func (sb *Switchboard) maybeReady() {
	if sb.state >= Ready || !sb.authenticated || len(sb.participants) == 0 {
		return
	}

	sb.state = Ready
	sb.log.Debug("Switchboard ready", zap.Int("queued", sb.conn.Tracker().Queued()))

	sb.conn.SetReady()
	if sb.state == Closed {
		return
	}

	caps := protocol.NewClientCapsMessage(sb.s.cfg.ClientName)
	_ = sb.sendMessage(caps, nil)

	sb.state = Active
}

// IRO trid index count passport friendly
func (sb *Switchboard) onRoster(cmd *protocol.Command, tx *client.Transaction) {
	sb.join(cmd.Param(3), protocol.URLDecode(cmd.Param(4)))
}

// JOI passport friendly
func (sb *Switchboard) onJoin(cmd *protocol.Command, tx *client.Transaction) {
	sb.join(cmd.Param(0), protocol.URLDecode(cmd.Param(1)))
}

func (sb *Switchboard) join(passport, friendly string) {
	if passport == "" || strings.EqualFold(passport, sb.s.cfg.Account) || sb.has(passport) {
		return
	}

	sb.participants = append(sb.participants, passport)
	sb.log.Debug("Participant joined", zap.String("passport", passport), zap.Int("participants", len(sb.participants)))

	if u, err := sb.s.list.User(passport); err == nil && friendly != "" {
		u.FriendlyName = friendly
	}

	switch {
	case len(sb.participants) == 1 && !sb.chat:
		sb.created = true
		sb.s.ui.ConversationCreated(Conversation{
			ID:           sb.id,
			Participants: []string{passport},
		})

	case !sb.chat:
		sb.promote()

	default:
		sb.s.ui.ChatJoined(sb.id, passport)
	}

	sb.maybeReady()
}

// promote turns the conversation into a chat and replays the roster into
// it.
func (sb *Switchboard) promote() {
	sb.chat = true
	sb.created = true

	sb.log.Info("Conversation became a chat", zap.Strings("participants", sb.participants))

	sb.s.ui.ConversationCreated(Conversation{
		ID:           sb.id,
		Chat:         true,
		Participants: sb.Participants(),
	})

	sb.s.ui.ChatJoined(sb.id, sb.s.cfg.Account)
	for _, p := range sb.participants {
		sb.s.ui.ChatJoined(sb.id, p)
	}
}

// BYE passport [1]
func (sb *Switchboard) onLeave(cmd *protocol.Command, tx *client.Transaction) {
	passport := cmd.Param(0)

	i := sb.index(passport)
	if i < 0 {
		return
	}

	sb.participants = append(sb.participants[:i:i], sb.participants[i+1:]...)

	if sb.chat {
		sb.s.ui.ChatLeft(sb.id, passport)
	} else {
		sb.s.ui.ConversationWrote(sb.id, "", passport+" has closed the conversation window.", WriteSystem)
	}

	if len(sb.participants) == 0 {
		sb.close(nil)
	}
}

func (sb *Switchboard) onServerClose(cmd *protocol.Command, tx *client.Transaction) {
	sb.close(nil)
}

func (sb *Switchboard) onText(cmd *protocol.Command, msg *protocol.Message) {
	from, _ := protocol.MessageSender(cmd)
	sb.s.ui.ConversationWrote(sb.id, from, msg.Text(), WriteReceived)
}

func (sb *Switchboard) onControl(cmd *protocol.Command, msg *protocol.Message) {
	if user, ok := msg.Header("TypingUser"); ok {
		sb.s.ui.Typing(sb.id, user)
	}
}

func (sb *Switchboard) onClientCaps(cmd *protocol.Command, msg *protocol.Message) {
	from, _ := protocol.MessageSender(cmd)
	sb.log.Debug("Client capabilities",
		zap.String("passport", from),
		zap.String("client", msg.BodyFields()["Client-Name"]))
}

func (sb *Switchboard) onDatacast(cmd *protocol.Command, msg *protocol.Message) {
	if msg.BodyFields()["ID"] != "1" {
		return
	}

	from, _ := protocol.MessageSender(cmd)
	sb.s.ui.ConversationWrote(sb.id, from, "", WriteReceived|WriteNudge)
}

func (sb *Switchboard) onP2P(cmd *protocol.Command, msg *protocol.Message) {
	header, _, err := protocol.ParseP2PHeader(msg.Body)
	if err != nil {
		sb.log.Warn("Dropping malformed P2P message", zap.Error(err))
		return
	}

	// Display pictures and file transfers are not supported
	sb.log.Debug("Ignoring P2P data",
		zap.Uint32("session", header.SessionID),
		zap.Uint32("id", header.ID),
		zap.Uint64("total", header.TotalSize))
}

func (sb *Switchboard) onInvite(cmd *protocol.Command, msg *protocol.Message) {
	from, _ := protocol.MessageSender(cmd)
	sb.log.Info("Ignoring invitation",
		zap.String("from", from),
		zap.String("application", msg.BodyFields()["Application-Name"]))
}

// SendText queues text until the switchboard is ready. Delivery failures are
// written into the conversation.
func (sb *Switchboard) SendText(text string) error {
	return sb.sendMessage(protocol.NewTextMessage(text), func(err error) {
		sb.sendFailed(text, err)
	})
}

// SendTyping tells the others we are typing. It is dropped while the
// switchboard is not active.
func (sb *Switchboard) SendTyping() error {
	if sb.state != Active {
		return nil
	}

	return sb.sendMessage(protocol.NewTypingMessage(sb.s.cfg.Account), nil)
}

func (sb *Switchboard) SendNudge() error {
	return sb.sendMessage(protocol.NewNudgeMessage(), func(err error) {
		sb.sendFailed("Nudge", err)
	})
}

// Invite calls another buddy into the conversation, which makes it a chat
// once they join.
func (sb *Switchboard) Invite(passport string) error {
	if sb.state == Closed {
		return ErrConversationClosed
	}

	if !sb.authenticated {
		sb.calls = append(sb.calls, passport)
		return nil
	}

	sb.call(passport)
	return nil
}

// sendMessage writes MSG flag length. Only acknowledged messages are
// tracked; failed is told about NAKs, timeouts and closed connections.
// Unacknowledged messages only fail while they are still queued.
func (sb *Switchboard) sendMessage(msg *protocol.Message, failed func(err error)) error {
	if sb.state == Closed {
		return ErrConversationClosed
	}

	tx := sb.s.newTx(protocol.MSG, msg.FlagParam())
	tx.Payload = msg.Payload()

	if msg.Flag == protocol.FlagAck {
		tx.OnReply(protocol.ACK, func(*protocol.Command) {})
		tx.OnReply(protocol.NAK, func(*protocol.Command) {
			if failed != nil {
				failed(ErrNotDelivered)
			}
		})
	} else {
		tx.Flags |= client.NoReply
	}

	tx.OnError = failed

	return sb.conn.Send(tx)
}

func (sb *Switchboard) sendFailed(text string, err error) {
	sb.log.Warn("Message not delivered", zap.Error(err))

	if sb.created {
		sb.s.ui.ConversationWrote(sb.id, "", "Message could not be sent: "+text, WriteSystem|WriteError)
		return
	}

	sb.s.ui.NotifyError("Message could not be sent", text, describe(err))
}

// Close leaves the conversation, sending OUT.
func (sb *Switchboard) Close() {
	if sb.state == Closed {
		return
	}

	if sb.conn.Attached() && !sb.conn.Closed() {
		out := client.NewTransaction(protocol.OUT)
		out.Flags = client.NoTrID
		_ = sb.conn.SendNow(out)
	}

	sb.close(nil)
}

// close releases the switchboard. Queued and unacknowledged messages are
// reported as failed by the connection abort.
func (sb *Switchboard) close(reason error) {
	if sb.state == Closed {
		return
	}

	sb.state = Closed

	if reason != nil {
		sb.log.Info("Closing switchboard", zap.Error(reason))
	} else {
		sb.log.Info("Closing switchboard")
	}

	sb.conn.Close()

	delete(sb.s.switchboards, sb.id)

	if sb.created {
		sb.s.ui.ConversationDestroyed(sb.id)
	}

	sb.participants = nil
}

func (sb *Switchboard) connClosed(err error) {
	sb.close(err)
}

func (sb *Switchboard) fail(title string, err error) {
	if sb.state == Closed {
		return
	}

	if !errors.Is(err, client.ErrConnectionClosed) {
		sb.s.ui.NotifyError(title, describe(err), sb.target)
	}

	sb.close(err)
}

func (sb *Switchboard) serverError(serr *protocol.ServerError, tx *client.Transaction) {
	if serr.Ignorable() {
		return
	}

	sb.s.ui.NotifyError("Conversation error", serr.Text(), "")
}
