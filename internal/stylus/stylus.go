// Package stylus compiles theme stylesheet sources into CSS. It understands
// the subset of Stylus that Calipso themes rely on: `//` line comments,
// `name = value` variables, indentation-based nesting with `&` parent
// references and optional colons/semicolons on property lines. Plain CSS
// passes through untouched apart from variable substitution.
package stylus

import (
	"fmt"
	"regexp"
	"strings"
)

// Warning is a non-fatal compile diagnostic, only collected when the "warn"
// option is on.
type Warning struct {
	Filename string
	Line     int
	Message  string
}

func (w Warning) String() string {
	if w.Filename == "" {
		return fmt.Sprintf("line %d: %s", w.Line, w.Message)
	}
	return fmt.Sprintf("%s:%d: %s", w.Filename, w.Line, w.Message)
}

// Renderer holds one source and its options. Options are set through the
// chainable Set so compile hooks can be written as a single expression.
type Renderer struct {
	src      string
	filename string
	warn     bool
	compress bool

	warnings []Warning
}

// New returns a Renderer for src with every option off.
func New(src string) *Renderer {
	return &Renderer{src: src}
}

// Set assigns a named option. Recognised keys are "filename" (string),
// "warn" (bool) and "compress" (bool); anything else is ignored.
func (r *Renderer) Set(key string, value any) *Renderer {
	switch key {
	case "filename":
		if s, ok := value.(string); ok {
			r.filename = s
		}
	case "warn":
		if b, ok := value.(bool); ok {
			r.warn = b
		}
	case "compress":
		if b, ok := value.(bool); ok {
			r.compress = b
		}
	}
	return r
}

// Filename returns the source file the output is associated with.
func (r *Renderer) Filename() string {
	return r.filename
}

// Compress reports whether output will be minified.
func (r *Renderer) Compress() bool {
	return r.compress
}

// Warnings returns diagnostics gathered by the last Render call.
func (r *Renderer) Warnings() []Warning {
	return append([]Warning(nil), r.warnings...)
}

// Render compiles the source to CSS.
func (r *Renderer) Render() (string, error) {
	r.warnings = nil

	lines := stripComments(r.src)
	vars, body := r.collectVariables(lines)

	var css string
	if isBraceSyntax(body) {
		css = r.renderBraces(body, vars)
	} else {
		root, err := parseTree(body)
		if err != nil {
			return "", r.wrap(err)
		}
		css = r.renderTree(root, vars)
	}

	if !r.compress {
		return css, nil
	}
	out, err := minify(css)
	if err != nil {
		return "", r.wrap(err)
	}
	return out, nil
}

func (r *Renderer) wrap(err error) error {
	if r.filename == "" {
		return err
	}
	return fmt.Errorf("%s: %w", r.filename, err)
}

func (r *Renderer) warnf(line int, format string, args ...any) {
	if !r.warn {
		return
	}
	r.warnings = append(r.warnings, Warning{
		Filename: r.filename,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
	})
}

type sourceLine struct {
	num  int
	text string
}

// stripComments removes `//` comments that start a line or follow
// whitespace, which keeps url(http://...) intact.
func stripComments(src string) []sourceLine {
	raw := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	lines := make([]sourceLine, 0, len(raw))
	for i, text := range raw {
		if idx := commentIndex(text); idx >= 0 {
			text = text[:idx]
		}
		lines = append(lines, sourceLine{num: i + 1, text: strings.TrimRight(text, " \t")})
	}
	return lines
}

func commentIndex(text string) int {
	inQuote := byte(0)
	for i := 0; i < len(text)-1; i++ {
		c := text[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == '/' && text[i+1] == '/':
			if i == 0 || text[i-1] == ' ' || text[i-1] == '\t' {
				return i
			}
		}
	}
	return -1
}

var assignment = regexp.MustCompile(`^(\$?[A-Za-z_][\w-]*)\s*=\s*(.+?);?$`)

// collectVariables pulls top-level assignments out of the source. Values may
// reference earlier variables.
func (r *Renderer) collectVariables(lines []sourceLine) (map[string]string, []sourceLine) {
	vars := make(map[string]string)
	body := make([]sourceLine, 0, len(lines))
	for _, line := range lines {
		if line.text != "" && !startsIndented(line.text) {
			if m := assignment.FindStringSubmatch(line.text); m != nil {
				vars[m[1]] = r.substitute(strings.TrimSpace(m[2]), vars, line.num)
				continue
			}
		}
		body = append(body, line)
	}
	return vars, body
}

func startsIndented(text string) bool {
	return text[0] == ' ' || text[0] == '\t'
}

var identifier = regexp.MustCompile(`\$?[A-Za-z_][\w-]*`)

// substitute replaces variable references in a property value. Identifiers
// glued to '#', '.', '-' or '@' are part of another token and left alone.
func (r *Renderer) substitute(value string, vars map[string]string, line int) string {
	matches := identifier.FindAllStringIndex(value, -1)
	if len(matches) == 0 {
		return value
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		name := value[start:end]
		if start > 0 && strings.ContainsRune("#.-@", rune(value[start-1])) {
			continue
		}
		replacement, ok := vars[name]
		if !ok {
			if strings.HasPrefix(name, "$") {
				r.warnf(line, "undefined variable %s", name)
			}
			continue
		}
		b.WriteString(value[last:start])
		b.WriteString(replacement)
		last = end
	}
	b.WriteString(value[last:])
	return b.String()
}

func isBraceSyntax(lines []sourceLine) bool {
	for _, line := range lines {
		if strings.Contains(line.text, "{") {
			return true
		}
	}
	return false
}

// renderBraces handles plain CSS input: only declaration values inside a
// block are rewritten.
func (r *Renderer) renderBraces(lines []sourceLine, vars map[string]string) string {
	var b strings.Builder
	depth := 0
	for _, line := range lines {
		text := line.text
		for i := 0; i < len(text); {
			c := text[i]
			switch {
			case c == '{':
				depth++
			case c == '}':
				depth--
			case c == ':' && depth > 0:
				rest := text[i+1:]
				end := strings.IndexAny(rest, ";{}")
				if end < 0 {
					end = len(rest)
				}
				if end < len(rest) && rest[end] == '{' {
					// nested selector such as a:hover {
					break
				}
				b.WriteByte(':')
				b.WriteString(r.substitute(rest[:end], vars, line.num))
				i += 1 + end
				continue
			}
			b.WriteByte(c)
			i++
		}
		b.WriteByte('\n')
	}
	return strings.TrimLeft(b.String(), "\n")
}
