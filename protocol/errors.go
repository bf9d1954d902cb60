package protocol

import (
	"fmt"
)

// Severity classifies how a session should react to a server error that no
// transaction or handler claimed.
type Severity int

const (
	// Rejected errors refuse a single request, the session carries on.
	Rejected Severity = iota
	// Retryable errors are transient server side conditions.
	Retryable
	// Fatal errors end the session.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "rejected"
	}
}

const (
	CodeSyntaxError          = 200
	CodeInvalidParameter     = 201
	CodeInvalidUser          = 205
	CodeDomainMissing        = 206
	CodeAlreadyLoggedIn      = 207
	CodeInvalidUsername      = 208
	CodeInvalidFriendlyName  = 209
	CodeListFull             = 210
	CodeAlreadyThere         = 215
	CodeNotOnList            = 216
	CodeUserOffline          = 217
	CodeAlreadyInMode        = 218
	CodeAlreadyInOpposite    = 219
	CodeNotInGroup           = 225
	CodeSwitchboardFailed    = 280
	CodeTransferFailed       = 281
	CodeRequiredFields       = 300
	CodeNotLoggedIn          = 302
	CodeInternalServerError  = 500
	CodeDatabaseServerError  = 501
	CodeFileOperationError   = 510
	CodeMemoryAllocation     = 520
	CodeServerBusy           = 600
	CodeServerUnavailable    = 601
	CodePeerNSDown           = 602
	CodeDatabaseConnect      = 603
	CodeServerGoingDown      = 604
	CodeCreateConnection     = 707
	CodeUnableToWrite        = 711
	CodeSessionOverload      = 712
	CodeUserTooActive        = 713
	CodeTooManySessions      = 714
	CodeNotExpected          = 715
	CodeBadFriendFile        = 717
	CodeTooFast              = 800
	CodeAuthenticationFailed = 911
	CodeNotAllowedOffline    = 913
	CodeNotAcceptingUsers    = 920
	CodeUserUnverified       = 924
	CodeAccountNotVerified   = 928
)

var errorText = map[int]string{
	CodeSyntaxError:          "Syntax Error",
	CodeInvalidParameter:     "Invalid Parameter",
	CodeInvalidUser:          "Invalid User",
	CodeDomainMissing:        "Fully Qualified Domain Name missing",
	CodeAlreadyLoggedIn:      "Already Login",
	CodeInvalidUsername:      "Invalid Username",
	CodeInvalidFriendlyName:  "Invalid Friendly Name",
	CodeListFull:             "List Full",
	CodeAlreadyThere:         "Already there",
	CodeNotOnList:            "Not on list",
	CodeUserOffline:          "User is offline",
	CodeAlreadyInMode:        "Already in the mode",
	CodeAlreadyInOpposite:    "Already in opposite list",
	CodeNotInGroup:           "User not in group",
	CodeSwitchboardFailed:    "Switchboard failed",
	CodeTransferFailed:       "Notify Transfer failed",
	CodeRequiredFields:       "Required fields missing",
	CodeNotLoggedIn:          "Not logged in",
	CodeInternalServerError:  "Internal server error",
	CodeDatabaseServerError:  "Database server error",
	CodeFileOperationError:   "File operation error",
	CodeMemoryAllocation:     "Memory allocation error",
	CodeServerBusy:           "Server busy",
	CodeServerUnavailable:    "Server unavailable",
	CodePeerNSDown:           "Peer Notification server down",
	CodeDatabaseConnect:      "Database connect error",
	CodeServerGoingDown:      "Server is going down",
	CodeCreateConnection:     "Error creating connection",
	CodeUnableToWrite:        "Unable to write",
	CodeSessionOverload:      "Session overload",
	CodeUserTooActive:        "User is too active",
	CodeTooManySessions:      "Too many sessions",
	CodeNotExpected:          "Not expected",
	CodeBadFriendFile:        "Bad friend file",
	CodeTooFast:              "Requests sent too fast",
	CodeAuthenticationFailed: "Authentication failed",
	CodeNotAllowedOffline:    "Not allowed when offline",
	CodeNotAcceptingUsers:    "Not accepting new users",
	CodeUserUnverified:       "User unverified",
	CodeAccountNotVerified:   "Account not verified",
}

// ServerError is a numeric error line sent by a server in reply to one of
// our transactions.
type ServerError struct {
	Code int
	TrID uint32
}

func NewServerError(cmd *Command) *ServerError {
	trID, _ := cmd.TrID()
	return &ServerError{Code: cmd.ErrorCode(), TrID: trID}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Text())
}

// Text is the human readable description of the code.
func (e *ServerError) Text() string {
	return ErrorText(e.Code)
}

func (e *ServerError) Severity() Severity {
	switch {
	case e.Code == CodeAuthenticationFailed,
		e.Code == CodeNotAcceptingUsers,
		e.Code == CodeUserUnverified,
		e.Code == CodeAccountNotVerified:
		return Fatal

	case e.Code >= 500 && e.Code <= 604,
		e.Code >= 707 && e.Code <= 714,
		e.Code == CodeTooFast:
		return Retryable

	default:
		return Rejected
	}
}

// Ignorable reports whether the error needs no user visible reaction.
func (e *ServerError) Ignorable() bool {
	return e.Code == CodeNotInGroup
}

// Is lets errors.Is compare two server errors by code.
func (e *ServerError) Is(target error) bool {
	t, ok := target.(*ServerError)
	if !ok {
		return false
	}

	return t.Code == e.Code
}

func ErrorText(code int) string {
	if text, ok := errorText[code]; ok {
		return text
	}

	return fmt.Sprintf("Unknown Error Code %d", code)
}
