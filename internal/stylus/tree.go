package stylus

import (
	"fmt"
	"strings"
)

type node struct {
	line     int
	indent   int
	text     string
	children []*node
}

// parseTree builds the indentation tree. Tabs count as two spaces.
func parseTree(lines []sourceLine) (*node, error) {
	root := &node{indent: -1}
	stack := []*node{root}

	for _, line := range lines {
		if strings.TrimSpace(line.text) == "" {
			continue
		}
		indent := indentWidth(line.text)
		n := &node{line: line.num, indent: indent, text: strings.TrimSpace(line.text)}

		for len(stack) > 1 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1]
		if len(parent.children) > 0 {
			sibling := parent.children[len(parent.children)-1]
			if sibling.indent != indent && parent != root {
				return nil, fmt.Errorf("line %d: inconsistent indentation", line.num)
			}
		}
		parent.children = append(parent.children, n)
		stack = append(stack, n)
	}
	return root, nil
}

func indentWidth(text string) int {
	width := 0
	for _, c := range text {
		switch c {
		case ' ':
			width++
		case '\t':
			width += 2
		default:
			return width
		}
	}
	return width
}

func (r *Renderer) renderTree(root *node, vars map[string]string) string {
	var b strings.Builder
	for _, child := range root.children {
		r.renderNode(&b, child, nil, vars, "")
	}
	return b.String()
}

func (r *Renderer) renderNode(b *strings.Builder, n *node, parents []string, vars map[string]string, pad string) {
	if len(n.children) == 0 {
		if strings.HasPrefix(n.text, "@") {
			fmt.Fprintf(b, "%s%s;\n", pad, strings.TrimSuffix(n.text, ";"))
			return
		}
		r.warnf(n.line, "property %q outside of a selector", n.text)
		return
	}

	if isBlockAtRule(n.text) {
		fmt.Fprintf(b, "%s%s {\n", pad, n.text)
		for _, child := range n.children {
			if len(child.children) == 0 && len(parents) > 0 {
				continue
			}
			r.renderNode(b, child, parents, vars, pad+"  ")
		}
		r.renderDeclarationsUnder(b, n, parents, vars, pad+"  ")
		fmt.Fprintf(b, "%s}\n", pad)
		return
	}

	selectors := combineSelectors(parents, n.text)

	var decls []string
	for _, child := range n.children {
		if len(child.children) == 0 {
			if decl, ok := r.declaration(child, vars); ok {
				decls = append(decls, decl)
			}
		}
	}
	if len(decls) > 0 {
		fmt.Fprintf(b, "%s%s {\n", pad, strings.Join(selectors, ",\n"+pad))
		for _, decl := range decls {
			fmt.Fprintf(b, "%s  %s;\n", pad, decl)
		}
		fmt.Fprintf(b, "%s}\n", pad)
	}

	for _, child := range n.children {
		if len(child.children) > 0 {
			r.renderNode(b, child, selectors, vars, pad)
		}
	}
}

// renderDeclarationsUnder emits declarations written directly inside a
// nested at-rule, scoped to the enclosing selectors.
func (r *Renderer) renderDeclarationsUnder(b *strings.Builder, n *node, parents []string, vars map[string]string, pad string) {
	if len(parents) == 0 {
		return
	}
	var decls []string
	for _, child := range n.children {
		if len(child.children) == 0 {
			if decl, ok := r.declaration(child, vars); ok {
				decls = append(decls, decl)
			}
		}
	}
	if len(decls) == 0 {
		return
	}
	fmt.Fprintf(b, "%s%s {\n", pad, strings.Join(parents, ",\n"+pad))
	for _, decl := range decls {
		fmt.Fprintf(b, "%s  %s;\n", pad, decl)
	}
	fmt.Fprintf(b, "%s}\n", pad)
}

func isBlockAtRule(text string) bool {
	for _, prefix := range []string{"@media", "@supports", "@document"} {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// declaration normalises "prop value", "prop: value" and "prop value;".
func (r *Renderer) declaration(n *node, vars map[string]string) (string, bool) {
	text := strings.TrimSuffix(n.text, ";")
	var prop, value string
	if idx := strings.IndexAny(text, ": "); idx > 0 {
		prop = text[:idx]
		value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text[idx:]), ":"))
	}
	if prop == "" || value == "" {
		r.warnf(n.line, "cannot parse declaration %q", n.text)
		return "", false
	}
	return prop + ": " + r.substitute(value, vars, n.line), true
}

func combineSelectors(parents []string, text string) []string {
	var own []string
	for _, part := range strings.Split(text, ",") {
		if part = strings.TrimSpace(part); part != "" {
			own = append(own, part)
		}
	}
	if len(parents) == 0 {
		return own
	}

	combined := make([]string, 0, len(parents)*len(own))
	for _, parent := range parents {
		for _, child := range own {
			if strings.Contains(child, "&") {
				combined = append(combined, strings.ReplaceAll(child, "&", parent))
				continue
			}
			combined = append(combined, parent+" "+child)
		}
	}
	return combined
}
