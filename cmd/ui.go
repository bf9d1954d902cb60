package cmd

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/session"
)

// logUI reports everything the session does to the log. It runs on the
// event loop.
type logUI struct {
	// answer is given to every choice, -1 leaves them unanswered
	answer int

	// disconnected is closed the first time the session reaches Disconnected
	// after a login attempt
	disconnected chan struct{}
	started      bool

	log *zap.Logger
}

func newLogUI(answer int, log *zap.Logger) *logUI {
	return &logUI{
		answer:       answer,
		disconnected: make(chan struct{}),
		log:          log,
	}
}

func (u *logUI) NotifyError(title, primary, secondary string) {
	u.log.Error(title, zap.String("primary", primary), zap.String("secondary", secondary))
}

func (u *logUI) NotifyInfo(title, text string) {
	u.log.Info(title, zap.String("text", text))
}

func (u *logUI) RequestChoice(c session.Choice) {
	u.log.Info(c.Title, zap.String("text", c.Text), zap.Strings("options", c.Options))

	if u.answer >= 0 && u.answer < len(c.Options) {
		u.log.Info("Answering", zap.String("option", c.Options[u.answer]))
		c.Answer(u.answer)
	}
}

func (u *logUI) ConversationCreated(c session.Conversation) {
	u.log.Info("Conversation",
		zap.Stringer("id", c.ID),
		zap.Bool("chat", c.Chat),
		zap.Strings("participants", c.Participants))
}

func (u *logUI) ConversationDestroyed(id uuid.UUID) {
	u.log.Info("Conversation closed", zap.Stringer("id", id))
}

func (u *logUI) ConversationWrote(id uuid.UUID, from, text string, flags session.WriteFlags) {
	u.log.Info("Message",
		zap.Stringer("id", id),
		zap.String("from", from),
		zap.String("text", text),
		zap.Uint8("flags", uint8(flags)))
}

func (u *logUI) ChatJoined(id uuid.UUID, passport string) {
	u.log.Info("Joined", zap.Stringer("id", id), zap.String("passport", passport))
}

func (u *logUI) ChatLeft(id uuid.UUID, passport string) {
	u.log.Info("Left", zap.Stringer("id", id), zap.String("passport", passport))
}

func (u *logUI) Typing(id uuid.UUID, passport string) {
	u.log.Debug("Typing", zap.Stringer("id", id), zap.String("passport", passport))
}

func (u *logUI) BuddyUpdated(b *contacts.User) {
	u.log.Debug("Buddy",
		zap.String("passport", b.Passport),
		zap.String("name", b.FriendlyName),
		zap.String("status", string(b.Presence)),
		zap.Stringer("lists", b.Lists))
}

func (u *logUI) BuddyRemoved(passport string) {
	u.log.Info("Buddy removed", zap.String("passport", passport))
}

func (u *logUI) GroupUpdated(g *contacts.Group) {
	u.log.Debug("Group", zap.Int("id", g.ID), zap.String("name", g.Name))
}

func (u *logUI) GroupRemoved(id int) {
	u.log.Info("Group removed", zap.Int("id", id))
}

func (u *logUI) MailNotification(m session.Mail) {
	u.log.Info("Mail",
		zap.String("from", m.From),
		zap.String("subject", m.Subject),
		zap.Int("unread", m.Unread))
}

func (u *logUI) ListInconsistency(i contacts.Inconsistency) {
	u.log.Warn("Buddy list changed while offline",
		zap.Stringer("kind", i.Kind),
		zap.String("passport", i.Passport),
		zap.String("name", i.Name))
}

func (u *logUI) StateChanged(s session.State) {
	u.log.Info("Session state", zap.Stringer("state", s))

	if s != session.Disconnected {
		u.started = true
		return
	}

	if u.started {
		u.started = false
		select {
		case <-u.disconnected:
		default:
			close(u.disconnected)
		}
	}
}
