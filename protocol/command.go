package protocol

import (
	"strconv"
	"strings"
)

// Verb is the three letter command name that starts every line, or a numeric
// server error code in reply position.
type Verb string

const (
	ACK Verb = "ACK"
	ADD Verb = "ADD"
	ADG Verb = "ADG"
	ANS Verb = "ANS"
	BLP Verb = "BLP"
	BPR Verb = "BPR"
	BYE Verb = "BYE"
	CAL Verb = "CAL"
	CHG Verb = "CHG"
	CHL Verb = "CHL"
	CVR Verb = "CVR"
	FLN Verb = "FLN"
	GCF Verb = "GCF"
	GTC Verb = "GTC"
	ILN Verb = "ILN"
	INF Verb = "INF"
	IPG Verb = "IPG"
	IRO Verb = "IRO"
	JOI Verb = "JOI"
	LSG Verb = "LSG"
	LST Verb = "LST"
	MSG Verb = "MSG"
	NAK Verb = "NAK"
	NLN Verb = "NLN"
	NOT Verb = "NOT"
	OUT Verb = "OUT"
	PNG Verb = "PNG"
	PRP Verb = "PRP"
	QNG Verb = "QNG"
	QRY Verb = "QRY"
	REA Verb = "REA"
	REG Verb = "REG"
	REM Verb = "REM"
	RMG Verb = "RMG"
	RNG Verb = "RNG"
	SBS Verb = "SBS"
	SYN Verb = "SYN"
	UBX Verb = "UBX"
	URL Verb = "URL"
	USR Verb = "USR"
	UUX Verb = "UUX"
	VER Verb = "VER"
	XFR Verb = "XFR"
)

// IsNumeric reports whether the verb is a server error code such as "911".
func (v Verb) IsNumeric() bool {
	if v == "" {
		return false
	}

	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}

	return true
}

func (v Verb) String() string {
	return string(v)
}

// Command is a single decoded line, plus the payload that followed it when
// the verb declares one.
type Command struct {
	Verb   Verb
	Params []string

	// Payload holds exactly the number of bytes the command declared. It is
	// nil for commands without a payload continuation.
	Payload []byte
}

// TrID returns the transaction id echoed by the server. Only the first
// parameter is considered and only when it is purely numeric, which matches
// how the servers place it. The id is advisory: unsolicited commands such as
// RNG put other numbers in that position.
func (c *Command) TrID() (uint32, bool) {
	if len(c.Params) == 0 {
		return 0, false
	}

	if !Verb(c.Params[0]).IsNumeric() {
		return 0, false
	}

	id, err := strconv.ParseUint(c.Params[0], 10, 32)
	if err != nil {
		return 0, false
	}

	return uint32(id), true
}

// IsError reports whether this line is a numeric server error.
func (c *Command) IsError() bool {
	return c.Verb.IsNumeric()
}

// ErrorCode returns the numeric error code of an error line.
func (c *Command) ErrorCode() int {
	code, err := strconv.Atoi(string(c.Verb))
	if err != nil {
		return 0
	}

	return code
}

// Param returns the i-th parameter or the empty string when there are not
// enough parameters.
func (c *Command) Param(i int) string {
	if i < 0 || i >= len(c.Params) {
		return ""
	}

	return c.Params[i]
}

// IntParam parses the i-th parameter as an integer. Missing or malformed
// values yield 0.
func (c *Command) IntParam(i int) int {
	n, err := strconv.Atoi(c.Param(i))
	if err != nil {
		return 0
	}

	return n
}

func (c *Command) String() string {
	var b strings.Builder

	b.WriteString(string(c.Verb))
	for _, p := range c.Params {
		b.WriteByte(' ')
		b.WriteString(p)
	}

	if c.Payload != nil {
		b.WriteString(" <")
		b.WriteString(strconv.Itoa(len(c.Payload)))
		b.WriteString(" bytes>")
	}

	return b.String()
}
