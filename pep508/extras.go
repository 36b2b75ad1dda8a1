// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package pep508

import (
	"strings"

	"wheelwright.build/pkg/sets"
)

// WithExtras expands a dependency list against a set of requested extras.
//
// A requirement whose marker does not reference the extra variable is
// passed through unchanged. A requirement guarded by an extra comparison
// is included only when its marker holds for one of the requested extras
// (or for the empty extra when none are requested); the extra comparisons
// are then removed from the returned requirement's marker, since the
// installer has no extra binding at install time. Order and duplicates
// are preserved.
//
// env provides bindings for non-extra marker variables during the
// inclusion decision. It may be nil.
func WithExtras(reqs []*Requirement, extras sets.Set[string], env Environment) []*Requirement {
	candidates := []string{""}
	for extra := range extras.All() {
		candidates = append(candidates, extra)
	}

	var result []*Requirement
	for _, req := range reqs {
		if !req.Marker.DependsOnExtra() {
			result = append(result, req)
			continue
		}
		included := false
		for _, extra := range candidates {
			evalEnv := make(Environment, len(env)+1)
			for k, v := range env {
				evalEnv[k] = v
			}
			evalEnv["extra"] = extra
			if req.Marker.Eval(evalEnv) {
				included = true
				break
			}
		}
		if !included {
			continue
		}
		req2 := req.Clone()
		req2.Marker = req.Marker.stripExtra()
		result = append(result, req2)
	}
	return result
}

// stripExtra returns a copy of the marker with every comparison that
// references the extra variable removed, or nil if nothing remains.
func (m *Marker) stripExtra() *Marker {
	if m == nil {
		return nil
	}
	root := stripExtraNode(m.root)
	if root == nil {
		return nil
	}
	return &Marker{root: root, src: formatNode(root)}
}

func stripExtraNode(node markerNode) markerNode {
	switch n := node.(type) {
	case *markerComparison:
		if n.lhs.variable == "extra" || n.rhs.variable == "extra" {
			return nil
		}
		return n
	case *markerJunction:
		var subs []markerNode
		for _, sub := range n.subs {
			if stripped := stripExtraNode(sub); stripped != nil {
				subs = append(subs, stripped)
			}
		}
		switch len(subs) {
		case 0:
			return nil
		case 1:
			return subs[0]
		default:
			return &markerJunction{op: n.op, subs: subs}
		}
	default:
		return node
	}
}

func formatNode(node markerNode) string {
	sb := new(strings.Builder)
	writeNode(sb, node)
	return sb.String()
}

func writeNode(sb *strings.Builder, node markerNode) {
	switch n := node.(type) {
	case *markerComparison:
		writeOperand(sb, n.lhs)
		sb.WriteString(" " + n.op + " ")
		writeOperand(sb, n.rhs)
	case *markerJunction:
		for i, sub := range n.subs {
			if i > 0 {
				sb.WriteString(" " + n.op + " ")
			}
			if _, nested := sub.(*markerJunction); nested {
				sb.WriteString("(")
				writeNode(sb, sub)
				sb.WriteString(")")
			} else {
				writeNode(sb, sub)
			}
		}
	}
}

func writeOperand(sb *strings.Builder, o markerOperand) {
	if o.variable != "" {
		sb.WriteString(o.variable)
	} else {
		sb.WriteString(`"` + o.literal + `"`)
	}
}
