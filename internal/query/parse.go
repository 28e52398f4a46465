package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/factgraph/internal/ir"
)

// ErrSyntax is wrapped by every Parse error.
var ErrSyntax = errors.New("query syntax error")

// Parse reads a descriptive string back into a Query. Runs of whitespace
// between steps are accepted; String() always renders single spaces.
func Parse(s string) (Query, error) {
	p := &parser{src: s}
	steps, err := p.parseSteps(false)
	if err != nil {
		return Query{}, err
	}
	return New(steps...), nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Query {
	q, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return q
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) parseSteps(nested bool) ([]Step, error) {
	var steps []Step
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			if nested {
				return nil, p.errorf("unterminated condition")
			}
			return steps, nil
		}
		if p.src[p.pos] == ')' {
			if !nested {
				return nil, p.errorf("unexpected ')'")
			}
			p.pos++
			return steps, nil
		}
		step, err := p.parseStep()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
}

func (p *parser) parseStep() (Step, error) {
	if p.pos+1 >= len(p.src) {
		return nil, p.errorf("truncated step")
	}
	head, sep := p.src[p.pos], p.src[p.pos+1]
	switch {
	case (head == 'S' || head == 'P') && sep == '.':
		p.pos += 2
		role := p.ident()
		if role == "" {
			return nil, p.errorf("missing role name")
		}
		dir := Successor
		if head == 'P' {
			dir = Predecessor
		}
		return Join{Direction: dir, Role: role}, nil
	case head == 'F' && sep == '.':
		p.pos += 2
		name := p.ident()
		if name == "" {
			return nil, p.errorf("missing property name")
		}
		if p.pos >= len(p.src) || p.src[p.pos] != '=' {
			return nil, p.errorf("expected '=' after property %q", name)
		}
		p.pos++
		value, err := p.stringLiteral()
		if err != nil {
			return nil, err
		}
		return PropertyCondition{Name: name, Value: value}, nil
	case (head == 'E' || head == 'N') && sep == '(':
		p.pos += 2
		steps, err := p.parseSteps(true)
		if err != nil {
			return nil, err
		}
		if len(steps) == 0 {
			return nil, p.errorf("empty condition")
		}
		q := Exists
		if head == 'N' {
			q = NotExists
		}
		return ExistentialCondition{Quantifier: q, Steps: steps}, nil
	}
	return nil, p.errorf("unexpected %q", p.src[p.pos:p.pos+2])
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune(" \t\n()=\"", rune(p.src[p.pos])) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) stringLiteral() (string, error) {
	if p.pos >= len(p.src) || p.src[p.pos] != '"' {
		return "", p.errorf("expected string literal")
	}
	start := p.pos
	p.pos++
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
			continue
		case '"':
			p.pos++
			s, err := ir.UnquoteString(p.src[start:p.pos])
			if err != nil {
				return "", p.errorf("%v", err)
			}
			return s, nil
		}
		p.pos++
	}
	return "", p.errorf("unterminated string literal")
}
