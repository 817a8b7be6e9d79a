package testutil

import "math/rand"

// Data produces n bytes of deterministic pseudorandom test data.
func Data(n int) []byte {
	r := rand.New(rand.NewSource(int64(n)))
	b := make([]byte, n)
	r.Read(b)
	return b
}
