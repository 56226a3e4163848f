package keystore

// zeroize overwrites a byte slice with zeros. Decoded DER private key bytes
// are cleared as soon as the parsed key has been built from them.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
