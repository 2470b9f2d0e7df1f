package pairing

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet omits easily confused characters (0/O, 1/I/L) so codes can
// be read aloud between partners.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the length of generated partner codes.
const CodeLength = 6

// NewCode generates a short human-shareable partner code. Raw bytes at or
// above the largest multiple of the alphabet size are redrawn so no
// character is favored.
func NewCode() (string, error) {
	const limit = 256 - 256%len(codeAlphabet)

	code := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength)
	for len(code) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == CodeLength {
				break
			}
		}
	}
	return string(code), nil
}
