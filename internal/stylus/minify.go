package stylus

import (
	"fmt"
	"strings"

	"github.com/gorilla/css/scanner"
)

// minify strips comments (except /*! ones) and whitespace that CSS does not
// need, and drops the last semicolon of each block.
func minify(css string) (string, error) {
	s := scanner.New(css)
	var b strings.Builder
	var prev *scanner.Token
	pendingSpace := false

	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			return b.String(), nil
		case scanner.TokenError:
			return "", fmt.Errorf("line %d: %s", tok.Line, tok.Value)
		case scanner.TokenS:
			pendingSpace = true
			continue
		case scanner.TokenComment:
			if !strings.HasPrefix(tok.Value, "/*!") {
				pendingSpace = true
				continue
			}
		}

		if pendingSpace && prev != nil && needsSpace(prev, tok) {
			b.WriteByte(' ')
		}
		pendingSpace = false

		if isChar(tok, "}") {
			trimmed := strings.TrimSuffix(b.String(), ";")
			b.Reset()
			b.WriteString(trimmed)
		}
		b.WriteString(tok.Value)
		prev = tok
	}
}

func needsSpace(prev, next *scanner.Token) bool {
	if prev.Type == scanner.TokenChar && strings.Contains("{};:,>", prev.Value) {
		return false
	}
	if next.Type == scanner.TokenChar && strings.Contains("{};,>)", next.Value) {
		return false
	}
	if prev.Type == scanner.TokenFunction {
		return false
	}
	return true
}

func isChar(tok *scanner.Token, value string) bool {
	return tok.Type == scanner.TokenChar && tok.Value == value
}
