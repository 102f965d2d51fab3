package app

import "crypto/rand"

// newContinuationToken produces a random hex handle correlating a suspended
// approval instance with the contract mutation that will resume it.
// Isolated here so the token strategy can evolve independently.
func newContinuationToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 32)
	for i, v := range b {
		out[i*2] = hex[v>>4]
		out[i*2+1] = hex[v&0x0f]
	}
	return string(out), nil
}
