package highlight

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func kindsAt(spans []Span, line string) map[string]Kind {
	kinds := make(map[string]Kind)
	for _, sp := range spans {
		kinds[line[sp.Start:sp.Start+sp.Len]] = sp.Kind
	}
	return kinds
}

func TestBuiltinTokenizesKeywords(t *testing.T) {
	b := NewBuiltin()
	line := `fun greet() { return }`

	kinds := kindsAt(b.Tokenize(line), line)
	require.Equal(t, KindKeyword, kinds["fun"])
	require.Equal(t, KindKeyword, kinds["return"])
}

func TestBuiltinTokenizesStringsAndComments(t *testing.T) {
	b := NewBuiltin()

	line := `println("hi // not a comment") // real comment`
	kinds := kindsAt(b.Tokenize(line), line)
	require.Equal(t, KindString, kinds[`"hi // not a comment"`])
	require.Equal(t, KindComment, kinds["// real comment"])
}

func TestBuiltinTokenizesNumbers(t *testing.T) {
	b := NewBuiltin()

	line := `val x = 3.14`
	kinds := kindsAt(b.Tokenize(line), line)
	require.Equal(t, KindKeyword, kinds["val"])
	require.Equal(t, KindNumber, kinds["3.14"])
}

func TestBuiltinKeywordNeedsWordBoundary(t *testing.T) {
	b := NewBuiltin()

	// "fund" contains "fun" but is one identifier.
	line := `fund()`
	for _, sp := range b.Tokenize(line) {
		require.NotEqual(t, KindKeyword, sp.Kind)
	}
}

func TestBuiltinSpansCoverLine(t *testing.T) {
	b := NewBuiltin()

	tests := []string{
		``,
		`plain text`,
		`val s = "str" // c`,
		`if (x == 1) return`,
	}

	for _, line := range tests {
		spans := b.Tokenize(line)
		covered := 0
		for _, sp := range spans {
			require.Equal(t, covered, sp.Start, "spans must be contiguous for %q", line)
			covered += sp.Len
		}
		require.Equal(t, len(line), covered, "spans must cover %q", line)
	}
}

func TestBuiltinNeverPanicsOnArbitraryInput(t *testing.T) {
	b := NewBuiltin()
	for _, line := range []string{"\"unterminated", "\\", "\"\\", "1..2..3", "日本語 // コメント"} {
		require.NotPanics(t, func() { b.Tokenize(line) })
	}
}
