package session

import (
	"github.com/luma/msnp/client"
	"github.com/luma/msnp/protocol"
)

// Dispatch tables, one per connection role and phase. They are built once
// and shared by every connection; handlers reach the tables again, so they
// are assigned in init rather than in their declarations.
var (
	loginTable        *client.Table[*Session]
	notificationTable *client.Table[*Session]
	syncTable         *client.Table[*Session]
	switchboardTable  *client.Table[*Switchboard]
)

func init() {
	loginTable = client.NewTable[*Session]("login",
		client.On[*Session](client.Unsolicited, protocol.OUT, (*Session).onSignOut),
	)

	notificationTable = client.NewTable[*Session]("notification",
		client.On[*Session](client.Unsolicited, protocol.ILN, (*Session).onInitialPresence),
		client.On[*Session](client.Unsolicited, protocol.NLN, (*Session).onPresence),
		client.On[*Session](client.Unsolicited, protocol.FLN, (*Session).onOffline),
		client.On[*Session](client.Unsolicited, protocol.CHG, (*Session).onStatusChanged),
		client.On[*Session](client.Unsolicited, protocol.ADD, (*Session).onListAdd),
		client.On[*Session](client.Unsolicited, protocol.REM, (*Session).onListRemove),
		client.On[*Session](client.Unsolicited, protocol.ADG, (*Session).onGroupAdd),
		client.On[*Session](client.Unsolicited, protocol.RMG, (*Session).onGroupRemove),
		client.On[*Session](client.Unsolicited, protocol.REG, (*Session).onGroupRename),
		client.On[*Session](client.Unsolicited, protocol.REA, (*Session).onRename),
		client.On[*Session](client.Unsolicited, protocol.BPR, (*Session).onBuddyPhone),
		client.On[*Session](client.Unsolicited, protocol.PRP, (*Session).onOwnProperty),
		client.On[*Session](client.Unsolicited, protocol.BLP, (*Session).onPrivacy),
		client.On[*Session](client.Unsolicited, protocol.GTC, (*Session).onReverseListPrompt),
		client.On[*Session](client.Unsolicited, protocol.CHL, (*Session).onChallenge),
		client.On[*Session](client.Unsolicited, protocol.QRY, (*Session).ignore),
		client.On[*Session](client.Unsolicited, protocol.QNG, (*Session).onPong),
		client.On[*Session](client.Unsolicited, protocol.RNG, (*Session).onRing),
		client.On[*Session](client.Unsolicited, protocol.XFR, (*Session).onTransfer),
		client.On[*Session](client.Unsolicited, protocol.OUT, (*Session).onSignOut),
		client.On[*Session](client.Unsolicited, protocol.NOT, (*Session).ignore),
		client.On[*Session](client.Unsolicited, protocol.SBS, (*Session).ignore),
		client.On[*Session](client.Unsolicited, protocol.UBX, (*Session).ignore),
		client.On[*Session](client.Unsolicited, protocol.GCF, (*Session).ignore),
		client.OnMessage[*Session](protocol.ContentTypeProfile, (*Session).onProfile),
		client.OnMessage[*Session](protocol.ContentTypeInitialEmail, (*Session).onInitialMail),
		client.OnMessage[*Session](protocol.ContentTypeInitialMailbox, (*Session).onInitialMail),
		client.OnMessage[*Session](protocol.ContentTypeEmail, (*Session).onMail),
		client.OnMessage[*Session](protocol.ContentTypeSystemMessage, (*Session).onSystemMessage),
	)

	// Everything else the notification server sends during the download
	// keeps its usual handler
	syncTable = notificationTable.With("sync",
		client.On[*Session](client.Unsolicited, protocol.LST, (*Session).onListEntry),
		client.On[*Session](client.Unsolicited, protocol.LSG, (*Session).onGroupEntry),
	)

	switchboardTable = client.NewTable[*Switchboard]("switchboard",
		client.On[*Switchboard](client.Unsolicited, protocol.IRO, (*Switchboard).onRoster),
		client.On[*Switchboard](client.Unsolicited, protocol.JOI, (*Switchboard).onJoin),
		client.On[*Switchboard](client.Unsolicited, protocol.BYE, (*Switchboard).onLeave),
		client.On[*Switchboard](client.Unsolicited, protocol.OUT, (*Switchboard).onServerClose),
		client.OnMessage[*Switchboard](protocol.ContentTypePlain, (*Switchboard).onText),
		client.OnMessage[*Switchboard](protocol.ContentTypeControl, (*Switchboard).onControl),
		client.OnMessage[*Switchboard](protocol.ContentTypeClientCaps, (*Switchboard).onClientCaps),
		client.OnMessage[*Switchboard](protocol.ContentTypeClientInfo, (*Switchboard).onClientCaps),
		client.OnMessage[*Switchboard](protocol.ContentTypeDatacast, (*Switchboard).onDatacast),
		client.OnMessage[*Switchboard](protocol.ContentTypeP2P, (*Switchboard).onP2P),
		client.OnMessage[*Switchboard](protocol.ContentTypeInvite, (*Switchboard).onInvite),
	)
}
