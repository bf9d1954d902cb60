package session

// State is the login state of a Session. States only move forward during a
// login; Disconnected is reachable from any of them.
type State int

const (
	Disconnected State = iota
	Connecting
	VersionNegotiated
	Authenticating
	Transferred
	Syncing
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case VersionNegotiated:
		return "version negotiated"
	case Authenticating:
		return "authenticating"
	case Transferred:
		return "transferred"
	case Syncing:
		return "syncing"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// SwitchboardState tracks one conversation connection.
type SwitchboardState int

const (
	Requested SwitchboardState = iota
	SwitchboardConnecting
	SwitchboardAuthenticating
	Ready
	Active
	Closed
)

func (s SwitchboardState) String() string {
	switch s {
	case Requested:
		return "requested"
	case SwitchboardConnecting:
		return "connecting"
	case SwitchboardAuthenticating:
		return "authenticating"
	case Ready:
		return "ready"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
