package protocol

import (
	"io"
	"strconv"
)

var Terminal = []byte("\r\n")

// AppendCommand serialises a command line onto dst:
//
//   VERB [TRID] P1 .. Pn [len(payload)]\r\n[payload]
//
// A trID of 0 is omitted, which is what unsolicited client commands such as
// PNG and OUT need. When payload is non nil its length is appended as the
// final parameter.
func AppendCommand(dst []byte, trID uint32, verb Verb, params []string, payload []byte) []byte {
	dst = append(dst, verb...)

	if trID != 0 {
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(trID), 10)
	}

	for _, p := range params {
		dst = append(dst, ' ')
		dst = append(dst, p...)
	}

	if payload != nil {
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	}

	dst = append(dst, Terminal...)

	if payload != nil {
		dst = append(dst, payload...)
	}

	return dst
}

// WriteCommand writes a single serialised command to w in one Write call.
func WriteCommand(w io.Writer, trID uint32, verb Verb, params []string, payload []byte) error {
	_, err := w.Write(AppendCommand(nil, trID, verb, params, payload))
	return err
}

// WriteReply writes a server side line. It is used by the mock server, which
// echoes transaction ids and does not derive payload lengths for replies such
// as "USR 3 OK".
func WriteReply(w io.Writer, verb Verb, params ...string) error {
	_, err := w.Write(AppendCommand(nil, 0, verb, params, nil))
	return err
}
