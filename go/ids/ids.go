// Package ids generates short, URL-safe order identifiers.
package ids

import (
	"crypto/rand"
	"fmt"
)

// Alphabet is the 33-symbol set identifiers are drawn from. It omits
// 0, O, I and l, which are easy to confuse when an identifier is read
// aloud or retyped from a log line.
const Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Length of every generated identifier. Twelve symbols over a 33-symbol
// alphabet carry a bit over 60 bits of entropy, comfortably past birthday
// collisions at any plausible order volume.
const Length = 12

// New returns a fresh identifier. Symbols are drawn uniformly via
// rejection sampling so no alphabet position is favored.
func New() string {
	var out = make([]byte, 0, Length)
	var buf = make([]byte, 2*Length)
	for {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("reading entropy: %v", err))
		}
		for _, b := range buf {
			// Mask to six bits and reject values beyond the alphabet.
			if idx := int(b & 0x3f); idx < len(Alphabet) {
				out = append(out, Alphabet[idx])
				if len(out) == Length {
					return string(out)
				}
			}
		}
	}
}
