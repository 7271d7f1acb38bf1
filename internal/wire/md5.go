package wire

import (
	"crypto/md5" //nolint:gosec // required by the Postgres wire protocol, not a security choice
	"encoding/hex"
)

// MD5Password computes the MD5 password hash per the wire protocol's
// AuthenticationMD5Password response (§4.1):
//
//	"md5" || hex(md5( hex(md5(password || username)) || salt ))
//
// There is no ecosystem library for this — it's a fixed legacy
// construction mandated by the wire format itself, not a general
// hashing concern, so it stays on crypto/md5 directly.
func MD5Password(username, password string, salt [4]byte) string {
	inner := md5.Sum([]byte(password + username)) //nolint:gosec
	innerHex := hex.EncodeToString(inner[:])
	outer := md5.Sum(append([]byte(innerHex), salt[:]...)) //nolint:gosec
	return "md5" + hex.EncodeToString(outer[:])
}
