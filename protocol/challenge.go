package protocol

import (
	"crypto/md5"
	"encoding/hex"
)

const (
	// ChallengeProductID is sent as the QRY parameter.
	ChallengeProductID = "msmsgs@msnmsgr.com"

	challengeProductKey = "Q1P7W2E4J9R8U3S5"
)

// ChallengeResponse computes the QRY payload answering a CHL challenge. The
// result is always 32 bytes of lower case hex.
func ChallengeResponse(challenge string) []byte {
	sum := md5.Sum([]byte(challenge + challengeProductKey))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}

// MD5Password answers the legacy "USR MD5 S" challenge.
func MD5Password(challenge, password string) string {
	sum := md5.Sum([]byte(challenge + password))
	return hex.EncodeToString(sum[:])
}
