// Package digest implements the HTTP-Digest-style MD5 challenge/response CAS
// uses for ETS_REQ_SYS_CON authentication. MD5 is mandated
// by the wire protocol, not chosen for strength; this package exists solely
// to compute the two fixed hashes the handshake requires.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// A1 computes MD5(destId:realm:password) and returns it as lowercase hex,
// matching the intermediate digest HTTP Digest auth calls "A1".
func A1(destID, realm, password string) string {
	return hexMD5(destID + ":" + realm + ":" + password)
}

// Response computes MD5(a1:nonce) and returns it uppercased, which is the
// form CAS expects in the <response> field.
func Response(a1, nonce string) string {
	return strings.ToUpper(hexMD5(a1 + ":" + nonce))
}

// Challenge computes the full destId:realm:password -> nonce response in one
// call, for callers that don't need the intermediate A1.
func Challenge(destID, realm, password, nonce string) string {
	return Response(A1(destID, realm, password), nonce)
}

func hexMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
