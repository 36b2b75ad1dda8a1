// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package pep508

import (
	"fmt"
	"strings"
)

// A Marker is an environment-marker predicate:
// a boolean expression over environment variables
// such as python_version, sys_platform, and extra.
type Marker struct {
	root markerNode
	src  string
}

// Environment is the set of variable bindings a marker is evaluated in.
// Variables absent from the environment evaluate as the empty string.
type Environment map[string]string

// markerNode is a node in the marker expression tree.
type markerNode interface {
	eval(env Environment) bool
}

// ParseMarker parses a standalone environment-marker expression.
func ParseMarker(s string) (*Marker, error) {
	p := &parser{s: s}
	m, err := parseMarkerTail(p)
	if err != nil {
		return nil, fmt.Errorf("parse marker %q: %v", s, err)
	}
	p.skipSpace()
	if p.pos < len(p.s) {
		return nil, fmt.Errorf("parse marker %q: unexpected trailing text %q", s, p.s[p.pos:])
	}
	return m, nil
}

// parseMarkerTail parses a marker expression from the parser's
// current position to the end of input.
func parseMarkerTail(p *parser) (*Marker, error) {
	start := p.pos
	node, err := parseMarkerOr(p)
	if err != nil {
		return nil, err
	}
	return &Marker{root: node, src: strings.TrimSpace(p.s[start:p.pos])}, nil
}

// Eval evaluates the marker against the given environment.
// A nil marker is unconditionally true.
func (m *Marker) Eval(env Environment) bool {
	if m == nil {
		return true
	}
	return m.root.eval(env)
}

// String returns the marker expression as written.
// A nil marker formats as the empty string.
func (m *Marker) String() string {
	if m == nil {
		return ""
	}
	return m.src
}

// DependsOnExtra reports whether any comparison in the marker
// references the extra variable.
func (m *Marker) DependsOnExtra() bool {
	if m == nil {
		return false
	}
	return dependsOnExtra(m.root)
}

func dependsOnExtra(node markerNode) bool {
	switch n := node.(type) {
	case *markerComparison:
		return n.lhs.variable == "extra" || n.rhs.variable == "extra"
	case *markerJunction:
		for _, sub := range n.subs {
			if dependsOnExtra(sub) {
				return true
			}
		}
	}
	return false
}

// markerJunction is an "and" or "or" of two or more subexpressions.
type markerJunction struct {
	op   string // "and" or "or"
	subs []markerNode
}

func (j *markerJunction) eval(env Environment) bool {
	for _, sub := range j.subs {
		v := sub.eval(env)
		if j.op == "or" && v {
			return true
		}
		if j.op == "and" && !v {
			return false
		}
	}
	return j.op == "and"
}

// markerOperand is either an environment variable reference
// or a quoted literal.
type markerOperand struct {
	variable string
	literal  string
}

func (o markerOperand) value(env Environment) string {
	if o.variable != "" {
		return env[o.variable]
	}
	return o.literal
}

// markerComparison is a single comparison expression.
type markerComparison struct {
	lhs markerOperand
	op  string
	rhs markerOperand
}

func (c *markerComparison) eval(env Environment) bool {
	lhs := c.lhs.value(env)
	rhs := c.rhs.value(env)
	switch c.op {
	case "==", "===":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "<":
		return lhs < rhs
	case "<=":
		return lhs <= rhs
	case ">":
		return lhs > rhs
	case ">=":
		return lhs >= rhs
	case "in":
		return strings.Contains(rhs, lhs)
	case "not in":
		return !strings.Contains(rhs, lhs)
	default:
		return false
	}
}

func parseMarkerOr(p *parser) (markerNode, error) {
	first, err := parseMarkerAnd(p)
	if err != nil {
		return nil, err
	}
	subs := []markerNode{first}
	for {
		p.skipSpace()
		if !p.takeWord("or") {
			break
		}
		next, err := parseMarkerAnd(p)
		if err != nil {
			return nil, err
		}
		subs = append(subs, next)
	}
	if len(subs) == 1 {
		return subs[0], nil
	}
	return &markerJunction{op: "or", subs: subs}, nil
}

func parseMarkerAnd(p *parser) (markerNode, error) {
	first, err := parseMarkerExpr(p)
	if err != nil {
		return nil, err
	}
	subs := []markerNode{first}
	for {
		p.skipSpace()
		if !p.takeWord("and") {
			break
		}
		next, err := parseMarkerExpr(p)
		if err != nil {
			return nil, err
		}
		subs = append(subs, next)
	}
	if len(subs) == 1 {
		return subs[0], nil
	}
	return &markerJunction{op: "and", subs: subs}, nil
}

func parseMarkerExpr(p *parser) (markerNode, error) {
	p.skipSpace()
	if p.peek() == '(' {
		p.pos++
		node, err := parseMarkerOr(p)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, fmt.Errorf("unclosed marker parenthesis")
		}
		p.pos++
		return node, nil
	}
	lhs, err := parseMarkerOperand(p)
	if err != nil {
		return nil, err
	}
	op, err := parseMarkerOp(p)
	if err != nil {
		return nil, err
	}
	rhs, err := parseMarkerOperand(p)
	if err != nil {
		return nil, err
	}
	return &markerComparison{lhs: lhs, op: op, rhs: rhs}, nil
}

func parseMarkerOperand(p *parser) (markerOperand, error) {
	p.skipSpace()
	switch quote := p.peek(); quote {
	case '"', '\'':
		p.pos++
		literal := p.takeWhile(func(b byte) bool { return b != quote })
		if p.peek() != quote {
			return markerOperand{}, fmt.Errorf("unterminated string literal")
		}
		p.pos++
		return markerOperand{literal: literal}, nil
	default:
		name := p.takeWhile(isNameByte)
		if name == "" {
			return markerOperand{}, fmt.Errorf("expected marker operand at %q", p.s[p.pos:])
		}
		return markerOperand{variable: name}, nil
	}
}

func parseMarkerOp(p *parser) (string, error) {
	p.skipSpace()
	for _, op := range versionOps {
		if strings.HasPrefix(p.s[p.pos:], op) {
			p.pos += len(op)
			return op, nil
		}
	}
	if p.takeWord("not") {
		p.skipSpace()
		if !p.takeWord("in") {
			return "", fmt.Errorf(`expected "in" after "not"`)
		}
		return "not in", nil
	}
	if p.takeWord("in") {
		return "in", nil
	}
	return "", fmt.Errorf("expected marker operator at %q", p.s[p.pos:])
}

// takeWord consumes the given bare word if it appears next,
// requiring a non-name byte (or end of input) after it.
func (p *parser) takeWord(word string) bool {
	if !strings.HasPrefix(p.s[p.pos:], word) {
		return false
	}
	end := p.pos + len(word)
	if end < len(p.s) && isNameByte(p.s[end]) {
		return false
	}
	p.pos = end
	return true
}
