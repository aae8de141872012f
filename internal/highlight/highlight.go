package highlight

import (
	"strings"
	"unicode"
)

// Kind classifies a token span for styling.
type Kind string

const (
	KindText    Kind = "text"
	KindKeyword Kind = "keyword"
	KindString  Kind = "string"
	KindComment Kind = "comment"
	KindNumber  Kind = "number"
)

// Span is one styled slice of a line, expressed in byte offsets.
type Span struct {
	Start int
	Len   int
	Kind  Kind
}

// Tokenizer splits a single line into styled spans. Implementations must
// never panic on arbitrary input; a failed tokenize degrades to one plain
// text span.
type Tokenizer interface {
	Tokenize(line string) []Span
}

// Builtin is the fallback tokenizer: line comments, string literals,
// numbers, and a keyword set. Good enough for a scratchpad; fidelity is not
// the point.
type Builtin struct {
	keywords map[string]bool
}

var kotlinKeywords = []string{
	"as", "break", "class", "continue", "do", "else", "false", "for", "fun",
	"if", "import", "in", "interface", "is", "null", "object", "package",
	"return", "super", "this", "throw", "true", "try", "typealias", "val",
	"var", "when", "while",
}

func NewBuiltin() *Builtin {
	kw := make(map[string]bool, len(kotlinKeywords))
	for _, k := range kotlinKeywords {
		kw[k] = true
	}
	return &Builtin{keywords: kw}
}

func (b *Builtin) Tokenize(line string) []Span {
	var spans []Span
	i := 0
	flushFrom := 0

	flush := func(upto int) {
		if upto > flushFrom {
			spans = append(spans, Span{Start: flushFrom, Len: upto - flushFrom, Kind: KindText})
		}
	}

	for i < len(line) {
		c := line[i]

		switch {
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			flush(i)
			spans = append(spans, Span{Start: i, Len: len(line) - i, Kind: KindComment})
			i = len(line)
			flushFrom = i

		case c == '"':
			flush(i)
			end := i + 1
			for end < len(line) {
				if line[end] == '\\' {
					end += 2
					continue
				}
				if line[end] == '"' {
					end++
					break
				}
				end++
			}
			if end > len(line) {
				end = len(line)
			}
			spans = append(spans, Span{Start: i, Len: end - i, Kind: KindString})
			i = end
			flushFrom = i

		case unicode.IsDigit(rune(c)) && (i == 0 || !isWordByte(line[i-1])):
			flush(i)
			end := i
			for end < len(line) && (unicode.IsDigit(rune(line[end])) || line[end] == '.' || line[end] == '_') {
				end++
			}
			spans = append(spans, Span{Start: i, Len: end - i, Kind: KindNumber})
			i = end
			flushFrom = i

		case isWordByte(c) && (i == 0 || !isWordByte(line[i-1])):
			end := i
			for end < len(line) && isWordByte(line[end]) {
				end++
			}
			word := line[i:end]
			if b.keywords[strings.ToLower(word)] && word == strings.ToLower(word) {
				flush(i)
				spans = append(spans, Span{Start: i, Len: end - i, Kind: KindKeyword})
				flushFrom = end
			}
			i = end

		default:
			i++
		}
	}

	flush(len(line))
	if len(spans) == 0 {
		return []Span{{Start: 0, Len: len(line), Kind: KindText}}
	}
	return spans
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
