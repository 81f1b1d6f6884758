package vpl

import (
	"fmt"
	"strings"
	"unicode"
)

// parser is a hand-written recursive-descent reader over the grammar
// described in spec.md §4.J, grounded on the tokenization rules of
// original_source/versatiles/src/utils/kdl.rs (bare/quoted identifiers,
// escape sequences, comments) extended with VPL's '|' pipe chaining and
// bracketed sub-pipeline lists, neither of which exist in plain KDL.
type parser struct {
	input []rune
	pos   int
}

// Parse reads a single pipeline from input.
func Parse(input string) (Pipeline, error) {
	p := &parser{input: []rune(input)}
	pipeline, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.atEnd() {
		return nil, fmt.Errorf("vpl: unexpected trailing input at position %d: %q", p.pos, string(p.input[p.pos:]))
	}
	return pipeline, nil
}

func (p *parser) atEnd() bool { return p.pos >= len(p.input) }

func (p *parser) peek() rune {
	if p.atEnd() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) peekAt(offset int) rune {
	if p.pos+offset >= len(p.input) {
		return 0
	}
	return p.input[p.pos+offset]
}

// skipSpace consumes whitespace, "// ..." line comments, and "/* ... */"
// block comments, the trio kdl.rs's parse_ws/parse_linespace treat as
// insignificant between tokens.
func (p *parser) skipSpace() {
	for !p.atEnd() {
		c := p.peek()
		switch {
		case unicode.IsSpace(c):
			p.pos++
		case c == '/' && p.peekAt(1) == '/':
			for !p.atEnd() && p.peek() != '\n' {
				p.pos++
			}
		case c == '/' && p.peekAt(1) == '*':
			p.pos += 2
			for !p.atEnd() && !(p.peek() == '*' && p.peekAt(1) == '/') {
				p.pos++
			}
			if p.atEnd() {
				return
			}
			p.pos += 2
		default:
			return
		}
	}
}

func isIdentifierChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '-'
}

func isInitialIdentifierChar(c rune) bool {
	return isIdentifierChar(c) && !unicode.IsDigit(c)
}

func (p *parser) parseBareIdentifier() (string, error) {
	start := p.pos
	if p.atEnd() || !isInitialIdentifierChar(p.peek()) {
		return "", fmt.Errorf("vpl: expected identifier at position %d", p.pos)
	}
	p.pos++
	for !p.atEnd() && isIdentifierChar(p.peek()) {
		p.pos++
	}
	return string(p.input[start:p.pos]), nil
}

// parseQuotedString reads a "..." literal, honoring \\, \", \n, \t.
func (p *parser) parseQuotedString() (string, error) {
	if p.peek() != '"' {
		return "", fmt.Errorf("vpl: expected '\"' at position %d", p.pos)
	}
	p.pos++
	var sb strings.Builder
	for {
		if p.atEnd() {
			return "", fmt.Errorf("vpl: unterminated string starting before position %d", p.pos)
		}
		c := p.input[p.pos]
		if c == '"' {
			p.pos++
			return sb.String(), nil
		}
		if c == '\\' {
			p.pos++
			if p.atEnd() {
				return "", fmt.Errorf("vpl: unterminated escape at position %d", p.pos)
			}
			switch p.input[p.pos] {
			case '\\':
				sb.WriteRune('\\')
			case '"':
				sb.WriteRune('"')
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				return "", fmt.Errorf("vpl: unknown escape %q at position %d", p.input[p.pos], p.pos)
			}
			p.pos++
			continue
		}
		sb.WriteRune(c)
		p.pos++
	}
}

// parseIdentifier reads a node or property name: quoted or bare.
func (p *parser) parseIdentifier() (string, error) {
	if p.peek() == '"' {
		return p.parseQuotedString()
	}
	return p.parseBareIdentifier()
}

// parseScalarValue reads a single property value: quoted or bare,
// without the '[' array wrapper (used both standalone and as array
// elements).
func (p *parser) parseScalarValue() (string, error) {
	if p.peek() == '"' {
		return p.parseQuotedString()
	}
	start := p.pos
	for !p.atEnd() && isValueChar(p.peek()) {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("vpl: expected a value at position %d", p.pos)
	}
	return string(p.input[start:p.pos]), nil
}

func isValueChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '.' || c == '-' || c == '_' || c == '+'
}

// parseValue reads a property's value, either a scalar or a bracketed
// "[v1,v2,...]" array (flattened into a comma-joined string; see
// Node.Float64sOption).
func (p *parser) parseValue() (string, error) {
	if p.peek() != '[' {
		return p.parseScalarValue()
	}
	p.pos++
	var parts []string
	p.skipSpace()
	for p.peek() != ']' {
		v, err := p.parseScalarValue()
		if err != nil {
			return "", err
		}
		parts = append(parts, v)
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			p.skipSpace()
			continue
		}
		break
	}
	if p.peek() != ']' {
		return "", fmt.Errorf("vpl: expected ']' to close array value at position %d", p.pos)
	}
	p.pos++
	return strings.Join(parts, ","), nil
}

func (p *parser) parseProperty() (Property, error) {
	key, err := p.parseIdentifier()
	if err != nil {
		return Property{}, err
	}
	p.skipSpace()
	if p.peek() != '=' {
		return Property{}, fmt.Errorf("vpl: expected '=' after %q at position %d", key, p.pos)
	}
	p.pos++
	p.skipSpace()
	value, err := p.parseValue()
	if err != nil {
		return Property{}, err
	}
	return Property{Key: key, Value: value}, nil
}

// propertyLookahead reports whether the parser is positioned at a
// "identifier=" property (vs. the sources bracket or a pipe/terminator),
// without consuming input.
func (p *parser) propertyLookahead() bool {
	save := p.pos
	defer func() { p.pos = save }()
	if _, err := p.parseIdentifier(); err != nil {
		return false
	}
	p.skipSpace()
	return p.peek() == '='
}

// parseNode reads one "<op> [kw=val ...] [ <subpipeline>,... ]" term.
func (p *parser) parseNode() (Node, error) {
	name, err := p.parseIdentifier()
	if err != nil {
		return Node{}, err
	}
	node := Node{Name: name}
	for {
		p.skipSpace()
		if !p.propertyLookahead() {
			break
		}
		prop, err := p.parseProperty()
		if err != nil {
			return Node{}, err
		}
		node.Properties = append(node.Properties, prop)
	}
	p.skipSpace()
	if p.peek() == '[' {
		sources, err := p.parseSourcesList()
		if err != nil {
			return Node{}, err
		}
		node.Sources = sources
	}
	return node, nil
}

// parseSourcesList reads "[ pipeline (, pipeline)* ]".
func (p *parser) parseSourcesList() ([]Pipeline, error) {
	p.pos++ // consume '['
	p.skipSpace()
	var sources []Pipeline
	for p.peek() != ']' {
		sub, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		sources = append(sources, sub)
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			p.skipSpace()
			continue
		}
		break
	}
	if p.peek() != ']' {
		return nil, fmt.Errorf("vpl: expected ']' to close sources list at position %d", p.pos)
	}
	p.pos++
	return sources, nil
}

// parsePipeline reads "node ('|' node)*", the grammar's top-level shape
// and also the shape of each entry inside a sources list.
func (p *parser) parsePipeline() (Pipeline, error) {
	p.skipSpace()
	first, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	pipeline := Pipeline{first}
	for {
		p.skipSpace()
		if p.peek() != '|' {
			break
		}
		p.pos++
		p.skipSpace()
		next, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, next)
	}
	return pipeline, nil
}
