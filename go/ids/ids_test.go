package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewShapeAndAlphabet(t *testing.T) {
	for i := 0; i != 1000; i++ {
		var id = New()
		require.Len(t, id, Length)
		for _, r := range id {
			require.True(t, strings.ContainsRune(Alphabet, r),
				"symbol %q outside alphabet in %s", r, id)
		}
	}
}

func TestNewUniqueness(t *testing.T) {
	var seen = make(map[string]struct{}, 20000)
	for i := 0; i != 20000; i++ {
		var id = New()
		_, dup := seen[id]
		require.False(t, dup, "duplicate identifier %s", id)
		seen[id] = struct{}{}
	}
}

func TestNewCoversAlphabet(t *testing.T) {
	// With 2k identifiers (24k symbols) every alphabet position should
	// appear; a miss would indicate biased sampling.
	var counts = make(map[rune]int)
	for i := 0; i != 2000; i++ {
		for _, r := range New() {
			counts[r]++
		}
	}
	for _, r := range Alphabet {
		require.NotZero(t, counts[r], "symbol %q never drawn", r)
	}
}
