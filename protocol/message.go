package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"
)

const (
	ContentTypePlain          = "text/plain"
	ContentTypeControl        = "text/x-msmsgscontrol"
	ContentTypeClientCaps     = "text/x-clientcaps"
	ContentTypeClientInfo     = "text/x-clientinfo"
	ContentTypeP2P            = "application/x-msnmsgrp2p"
	ContentTypeDatacast       = "text/x-msnmsgr-datacast"
	ContentTypeEmoticon       = "text/x-mms-emoticon"
	ContentTypeProfile        = "text/x-msmsgsprofile"
	ContentTypeInitialEmail   = "text/x-msmsgsinitialemailnotification"
	ContentTypeEmail          = "text/x-msmsgsemailnotification"
	ContentTypeSystemMessage  = "application/x-msmsgssystemmessage"
	ContentTypeInvite         = "text/x-msmsgsinvite"
	ContentTypeInitialMailbox = "text/x-msmsgsinitialmdatanotification"
)

// MessageFlag selects how the switchboard acknowledges an outgoing MSG.
type MessageFlag byte

const (
	// FlagUnacknowledged messages are never acknowledged, e.g. typing.
	FlagUnacknowledged MessageFlag = 'U'
	// FlagNak only reports failures.
	FlagNak MessageFlag = 'N'
	// FlagAck reports both delivery and failure.
	FlagAck MessageFlag = 'A'
	// FlagData is used for P2P data chunks.
	FlagData MessageFlag = 'D'
)

var ErrMalformedMessage = errors.New("Message payload is missing the header terminator")

var headerTerminator = []byte("\r\n\r\n")

// Header is a single "Key: Value" line of a message envelope.
type Header struct {
	Key   string
	Value string
}

// Message is the MIME-like envelope carried as the payload of MSG. Header
// order is kept since some peers are sensitive to it.
type Message struct {
	ContentType string
	Charset     string
	Headers     []Header
	Body        []byte

	// Flag is only meaningful for outgoing switchboard messages.
	Flag MessageFlag
}

func NewMessage(contentType string, body []byte) *Message {
	return &Message{
		ContentType: contentType,
		Body:        body,
		Flag:        FlagAck,
	}
}

// NewTextMessage builds a plain text message the way the official client
// does, with the default font format header. Bare LFs are turned into CRLF.
func NewTextMessage(text string) *Message {
	m := NewMessage(ContentTypePlain, []byte(addCR(text)))
	m.Charset = "UTF-8"
	m.Flag = FlagAck
	m.SetHeader("X-MMS-IM-Format", "FN=Segoe%20UI; EF=; CO=0; CS=1; PF=0")
	return m
}

// NewTypingMessage builds the control message that tells the other side we
// are typing.
func NewTypingMessage(account string) *Message {
	m := NewMessage(ContentTypeControl, []byte("\r\n"))
	m.Flag = FlagUnacknowledged
	m.SetHeader("TypingUser", account)
	return m
}

// NewClientCapsMessage announces the client name after joining a switchboard.
func NewClientCapsMessage(clientName string) *Message {
	m := NewMessage(ContentTypeClientCaps, []byte("Client-Name: "+clientName+"\r\nChat-Logging: Y\r\n"))
	m.Flag = FlagUnacknowledged
	return m
}

func NewNudgeMessage() *Message {
	m := NewMessage(ContentTypeDatacast, []byte("ID: 1\r\n"))
	m.Flag = FlagNak
	return m
}

// ParseMessage parses the payload of a MSG command.
func ParseMessage(payload []byte) (*Message, error) {
	end := bytes.Index(payload, headerTerminator)
	if end < 0 {
		return nil, ErrMalformedMessage
	}

	m := &Message{}

	for _, line := range strings.Split(string(payload[:end]), "\r\n") {
		if line == "" {
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			// Folded continuation, only boundary parameters ever use it
			continue
		}

		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}

		key := line[:idx]
		value := strings.TrimLeft(line[idx+1:], " ")

		switch key {
		case "MIME-Version":
		case "Content-Type":
			m.setContentType(value)
		default:
			m.Headers = append(m.Headers, Header{Key: key, Value: value})
		}
	}

	body := payload[end+len(headerTerminator):]
	if len(body) > 0 {
		m.Body = make([]byte, len(body))
		copy(m.Body, body)
	}

	if (m.ContentType == "" || m.ContentType == ContentTypePlain) && m.Charset == "" {
		m.Body = latin1ToUTF8(m.Body)
		m.Charset = "UTF-8"
	}

	return m, nil
}

func (m *Message) setContentType(value string) {
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		// Tolerate sloppy peers: take whatever precedes the first ';'
		mediaType = strings.TrimSpace(strings.SplitN(value, ";", 2)[0])
		if idx := strings.Index(value, "charset="); idx >= 0 {
			m.Charset = strings.TrimSpace(value[idx+len("charset="):])
		}
	} else if cs, ok := params["charset"]; ok {
		m.Charset = cs
	}

	m.ContentType = strings.ToLower(mediaType)
}

// Header returns the value of the first header named key.
func (m *Message) Header(key string) (string, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}

	return "", false
}

// SetHeader replaces the value of key or appends it.
func (m *Message) SetHeader(key, value string) {
	for i := range m.Headers {
		if m.Headers[i].Key == key {
			m.Headers[i].Value = value
			return
		}
	}

	m.Headers = append(m.Headers, Header{Key: key, Value: value})
}

// Text returns the body as a string.
func (m *Message) Text() string {
	return string(m.Body)
}

// BodyFields parses "Key: Value" lines in the body, as used by service
// messages such as profiles and e-mail notifications. Parsing stops at the
// first empty line.
func (m *Message) BodyFields() map[string]string {
	fields := make(map[string]string)

	for _, line := range strings.Split(string(m.Body), "\r\n") {
		if line == "" {
			break
		}

		parts := strings.SplitN(line, ": ", 2)
		if len(parts) != 2 {
			continue
		}

		fields[parts[0]] = parts[1]
	}

	return fields
}

// Payload serialises the envelope for use as the MSG payload.
func (m *Message) Payload() []byte {
	var b bytes.Buffer

	b.WriteString("MIME-Version: 1.0\r\n")
	if m.Charset == "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", m.ContentType)
	} else {
		fmt.Fprintf(&b, "Content-Type: %s; charset=%s\r\n", m.ContentType, m.Charset)
	}

	for _, h := range m.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Key, h.Value)
	}

	b.WriteString("\r\n")
	b.Write(m.Body)

	return b.Bytes()
}

// FlagParam returns the flag as the single character MSG parameter,
// defaulting to acknowledged delivery.
func (m *Message) FlagParam() string {
	if m.Flag == 0 {
		return "A"
	}

	return string([]byte{byte(m.Flag)})
}

func addCR(s string) string {
	if !strings.Contains(s, "\n") {
		return s
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// latin1ToUTF8 converts a body sent without a charset. Bodies that already
// are valid UTF-8 are returned unchanged.
func latin1ToUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}

	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = utf8.AppendRune(out, rune(c))
	}

	return out
}

// MessageSender extracts the sender of an inbound "MSG account friendly len"
// command. The friendly name is URL decoded.
func MessageSender(cmd *Command) (account, friendly string) {
	return cmd.Param(0), URLDecode(cmd.Param(1))
}
