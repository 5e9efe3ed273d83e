package store

import (
	"fmt"

	"github.com/rpattn/querygate/internal/domain"
)

// CheckFilterShape reports whether the prefix-notation term list forms a
// complete expression. The validator runs it so a filter that would fail to
// parse here is rejected before execution ever starts.
func CheckFilterShape(terms []domain.FilterTerm) error {
	_, err := parseFilterTree(terms)
	return err
}

// filterNode is one node of the parsed filter tree: either a connective over
// children or a predicate leaf.
type filterNode struct {
	connective domain.Connective
	children   []*filterNode
	pred       *domain.Predicate
}

func (n *filterNode) isLeaf() bool { return n.pred != nil }

// parseFilterTree turns the prefix-notation term list into a tree. "&" and
// "|" consume two operands, "!" consumes one. Multiple top-level expressions
// are joined with an implicit AND, matching how callers usually write flat
// predicate lists. A nil root means "match everything".
func parseFilterTree(terms []domain.FilterTerm) (*filterNode, error) {
	pos := 0
	var parse func() (*filterNode, error)
	parse = func() (*filterNode, error) {
		if pos >= len(terms) {
			return nil, fmt.Errorf("%w: filter ends mid-expression", domain.ErrMalformedPlan)
		}
		term := terms[pos]
		pos++
		if !term.IsConnective() {
			return &filterNode{pred: term.Predicate}, nil
		}
		arity := 2
		if term.Connective == domain.ConnectiveNot {
			arity = 1
		}
		node := &filterNode{connective: term.Connective}
		for i := 0; i < arity; i++ {
			child, err := parse()
			if err != nil {
				return nil, err
			}
			node.children = append(node.children, child)
		}
		return node, nil
	}

	var roots []*filterNode
	for pos < len(terms) {
		node, err := parse()
		if err != nil {
			return nil, err
		}
		roots = append(roots, node)
	}
	switch len(roots) {
	case 0:
		return nil, nil
	case 1:
		return roots[0], nil
	default:
		return &filterNode{connective: domain.ConnectiveAnd, children: roots}, nil
	}
}
