package openssh

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// FingerprintSHA256 returns the OpenSSH SHA256 fingerprint of a public key
// blob: "SHA256:" followed by unpadded base64.
func FingerprintSHA256(blob []byte) string {
	sum := sha256.Sum256(blob)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

// FingerprintMD5 returns the legacy OpenSSH MD5 fingerprint of a public key
// blob as colon separated lowercase hex pairs.
func FingerprintMD5(blob []byte) string {
	sum := md5.Sum(blob)
	pairs := make([]string, len(sum))
	for i, b := range sum {
		pairs[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(pairs, ":")
}
