package session

import (
	"github.com/google/uuid"

	"github.com/luma/msnp/contacts"
)

// WriteFlags describe a line written into a conversation.
type WriteFlags uint8

const (
	WriteReceived WriteFlags = 1 << iota
	WriteSent
	WriteSystem
	WriteError
	WriteNudge
)

// Conversation describes a switchboard to the UI.
type Conversation struct {
	ID           uuid.UUID
	Chat         bool
	Participants []string
}

// Choice is a question for the user. Answer may be called from any
// goroutine, at most once, with the index of the chosen option.
type Choice struct {
	Title   string
	Text    string
	Options []string
	Answer  func(option int)
}

// Mail is an e-mail notification pushed by the notification server.
type Mail struct {
	From    string
	Address string
	Subject string
	Folder  string

	// Unread is the inbox count of initial notifications, 0 otherwise.
	Unread int
	URL    string
}

// UI is what the session reports to. Every call is made from the session's
// executor.
type UI interface {
	NotifyError(title, primary, secondary string)
	NotifyInfo(title, text string)
	RequestChoice(c Choice)

	ConversationCreated(c Conversation)
	ConversationDestroyed(id uuid.UUID)
	ConversationWrote(id uuid.UUID, from, text string, flags WriteFlags)
	ChatJoined(id uuid.UUID, passport string)
	ChatLeft(id uuid.UUID, passport string)
	Typing(id uuid.UUID, passport string)

	BuddyUpdated(u *contacts.User)
	BuddyRemoved(passport string)
	GroupUpdated(g *contacts.Group)
	GroupRemoved(id int)

	MailNotification(m Mail)
	ListInconsistency(i contacts.Inconsistency)
	StateChanged(s State)
}

// NopUI ignores everything. Embed it to implement part of UI.
type NopUI struct{}

func (NopUI) NotifyError(title, primary, secondary string)                        {}
func (NopUI) NotifyInfo(title, text string)                                       {}
func (NopUI) RequestChoice(c Choice)                                              {}
func (NopUI) ConversationCreated(c Conversation)                                  {}
func (NopUI) ConversationDestroyed(id uuid.UUID)                                  {}
func (NopUI) ConversationWrote(id uuid.UUID, from, text string, flags WriteFlags) {}
func (NopUI) ChatJoined(id uuid.UUID, passport string)                            {}
func (NopUI) ChatLeft(id uuid.UUID, passport string)                              {}
func (NopUI) Typing(id uuid.UUID, passport string)                                {}
func (NopUI) BuddyUpdated(u *contacts.User)                                       {}
func (NopUI) BuddyRemoved(passport string)                                        {}
func (NopUI) GroupUpdated(g *contacts.Group)                                      {}
func (NopUI) GroupRemoved(id int)                                                 {}
func (NopUI) MailNotification(m Mail)                                             {}
func (NopUI) ListInconsistency(i contacts.Inconsistency)                          {}
func (NopUI) StateChanged(s State)                                                {}

var _ UI = NopUI{}
