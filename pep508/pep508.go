// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

// Package pep508 provides parsing and formatting of Python dependency
// specifications as defined by PEP 508:
// a distribution name with optional extras, version specifiers,
// an optional direct URL reference, and an optional environment marker.
package pep508

import (
	"fmt"
	"slices"
	"strings"
)

// A Requirement is a parsed dependency specification.
// Requirements are immutable value types:
// equality is determined by parsed content, not source text.
type Requirement struct {
	// Name is the distribution name as written
	// (no case or separator normalization is applied).
	Name string
	// Extras is the sorted list of requested extras.
	Extras []string
	// Specifiers is the list of version constraints, in source order.
	Specifiers []Specifier
	// URL is the direct reference target if the requirement uses the
	// "name @ url" form.
	URL string
	// Marker is the environment predicate, or nil if unconditional.
	Marker *Marker
}

// A Specifier is a single version constraint like ">=1.2".
type Specifier struct {
	Op      string
	Version string
}

// String returns the specifier in requirement-string form.
func (s Specifier) String() string {
	return s.Op + s.Version
}

// comparison operators in decreasing match length order
// so that e.g. "==" is tried before "=".
var versionOps = []string{"===", "==", "!=", "<=", ">=", "~=", "<", ">"}

// Parse parses a single requirement string.
// It returns an error if the string does not conform
// to the requirement grammar.
func Parse(s string) (*Requirement, error) {
	p := &parser{s: s}
	req, err := p.requirement()
	if err != nil {
		return nil, fmt.Errorf("parse requirement %q: %v", s, err)
	}
	return req, nil
}

// MustParse parses a requirement string, panicking on error.
// It is intended for statically known requirement strings.
func MustParse(s string) *Requirement {
	req, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return req
}

// ParseAll parses each string in reqs.
// It stops at the first malformed requirement.
func ParseAll(reqs []string) ([]*Requirement, error) {
	parsed := make([]*Requirement, 0, len(reqs))
	for _, s := range reqs {
		req, err := Parse(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, req)
	}
	return parsed, nil
}

// String returns the requirement in canonical requirement-string form.
func (req *Requirement) String() string {
	sb := new(strings.Builder)
	sb.WriteString(req.Name)
	if len(req.Extras) > 0 {
		sb.WriteString("[")
		sb.WriteString(strings.Join(req.Extras, ","))
		sb.WriteString("]")
	}
	if req.URL != "" {
		sb.WriteString(" @ ")
		sb.WriteString(req.URL)
	} else {
		for i, spec := range req.Specifiers {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(spec.String())
		}
	}
	if req.Marker != nil {
		sb.WriteString("; ")
		sb.WriteString(req.Marker.String())
	}
	return sb.String()
}

// Equal reports whether two requirements have the same parsed content.
func (req *Requirement) Equal(other *Requirement) bool {
	if req == nil || other == nil {
		return req == other
	}
	return req.Name == other.Name &&
		slices.Equal(req.Extras, other.Extras) &&
		slices.Equal(req.Specifiers, other.Specifiers) &&
		req.URL == other.URL &&
		req.Marker.String() == other.Marker.String()
}

// Clone returns a deep copy of the requirement.
func (req *Requirement) Clone() *Requirement {
	req2 := &Requirement{
		Name:       req.Name,
		Extras:     slices.Clone(req.Extras),
		Specifiers: slices.Clone(req.Specifiers),
		URL:        req.URL,
		Marker:     req.Marker,
	}
	return req2
}

type parser struct {
	s   string
	pos int
}

func (p *parser) requirement() (*Requirement, error) {
	p.skipSpace()
	name := p.takeWhile(isNameByte)
	if name == "" {
		return nil, fmt.Errorf("missing distribution name")
	}
	req := &Requirement{Name: name}

	p.skipSpace()
	if p.peek() == '[' {
		extras, err := p.extras()
		if err != nil {
			return nil, err
		}
		req.Extras = extras
		p.skipSpace()
	}

	switch {
	case p.peek() == '@':
		p.pos++
		p.skipSpace()
		url := strings.TrimSpace(p.takeWhile(func(b byte) bool { return b != ';' }))
		if url == "" {
			return nil, fmt.Errorf("missing URL after @")
		}
		req.URL = url
	case p.peek() == '(':
		p.pos++
		specs, err := p.specifiers(')')
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("unclosed version specifier parenthesis")
		}
		p.pos++
		req.Specifiers = specs
	default:
		specs, err := p.specifiers(';')
		if err != nil {
			return nil, err
		}
		req.Specifiers = specs
	}

	p.skipSpace()
	if p.peek() == ';' {
		p.pos++
		marker, err := parseMarkerTail(p)
		if err != nil {
			return nil, err
		}
		req.Marker = marker
	}
	p.skipSpace()
	if p.pos < len(p.s) {
		return nil, fmt.Errorf("unexpected trailing text %q", p.s[p.pos:])
	}
	return req, nil
}

func (p *parser) extras() ([]string, error) {
	// caller has verified the opening bracket
	p.pos++
	var extras []string
	for {
		p.skipSpace()
		name := p.takeWhile(isNameByte)
		if name == "" {
			return nil, fmt.Errorf("empty extra name")
		}
		extras = append(extras, name)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			slices.Sort(extras)
			return slices.Compact(extras), nil
		default:
			return nil, fmt.Errorf("malformed extras list")
		}
	}
}

// specifiers parses a comma-separated version specifier list,
// stopping (without consuming) at stop or end of string.
func (p *parser) specifiers(stop byte) ([]Specifier, error) {
	var specs []Specifier
	for {
		p.skipSpace()
		if p.pos >= len(p.s) || p.peek() == stop {
			return specs, nil
		}
		op := ""
		for _, candidate := range versionOps {
			if strings.HasPrefix(p.s[p.pos:], candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			return nil, fmt.Errorf("expected version operator at %q", p.s[p.pos:])
		}
		p.pos += len(op)
		p.skipSpace()
		version := p.takeWhile(isVersionByte)
		if version == "" {
			return nil, fmt.Errorf("missing version after %q", op)
		}
		specs = append(specs, Specifier{Op: op, Version: version})
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) takeWhile(f func(byte) bool) string {
	start := p.pos
	for p.pos < len(p.s) && f(p.s[p.pos]) {
		p.pos++
	}
	return p.s[start:p.pos]
}

func isNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' ||
		b >= 'A' && b <= 'Z' ||
		b >= '0' && b <= '9' ||
		b == '.' || b == '-' || b == '_'
}

func isVersionByte(b byte) bool {
	return isNameByte(b) || b == '*' || b == '+' || b == '!'
}
