package protocol

// This package implements parsing and serialising of the MSN Messenger
// command protocol (MSNP7 to MSNP9) spoken by the dispatch, notification and
// switchboard servers.
//
// === General Syntax
//
// - lines are `\r\n` delimited, a bare `\n` is tolerated on input
// - a line is a three letter verb followed by space separated parameters
// - commands we originate carry a transaction id (trid) as first parameter,
//   the server echoes it in its reply
// - a numeric verb is an error reply, e.g. `911 3`
//
// For example
//   ```
//     > VER 1 MSNP9 MSNP8 CVR0\r\n
//     < VER 1 MSNP9 CVR0\r\n
//   ```
//
// Note: the trid is advisory. Servers interleave unsolicited commands (NLN,
// RNG, ...) with replies and some replies reuse the trid position for other
// numbers. Reply correlation is done by verb, see the client package.
//
// === Payloads
//
// MSG, NOT, IPG, GCF, UBX and UUX declare a payload, the byte length is their
// last parameter. The payload follows the line terminator and may itself
// contain newlines.
//
//   ```
//     < MSG alice@example.com Alice 133\r\n
//     < MIME-Version: 1.0\r\n
//     < Content-Type: text/plain; charset=UTF-8\r\n
//     < ...
//   ```
//
// Decoder accepts arbitrarily chunked input and only yields complete commands.
//
// === Messages
//
// The payload of MSG is a MIME like envelope, a block of `Key: Value` headers,
// an empty line and a body. The Content-Type header selects how the body is
// interpreted (text, typing notifications, e-mail notifications, P2P data).
