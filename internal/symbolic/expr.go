package symbolic

import (
	"math/big"
	"sort"
)

// Expr is a node of a parsed expression tree. Trees are immutable.
type Expr interface {
	isExpr()
}

type (
	numNode   struct{ val *big.Rat }
	symNode   struct{ name string }
	constNode struct{ name string } // pi, E or I
	addNode   struct{ terms []Expr }
	mulNode   struct{ factors []Expr }
	powNode   struct{ base, exp Expr }
	callNode  struct {
		fn  string
		arg Expr
	}
)

func (numNode) isExpr()   {}
func (symNode) isExpr()   {}
func (constNode) isExpr() {}
func (addNode) isExpr()   {}
func (mulNode) isExpr()   {}
func (powNode) isExpr()   {}
func (callNode) isExpr()  {}

// Functions understood by the parser. sqrt becomes a power and ln an alias of log.
var functions = map[string]bool{
	"sin": true, "cos": true, "tan": true, "exp": true, "log": true,
}

var constants = map[string]bool{"pi": true, "E": true, "I": true}

func intNode(n int64) Expr         { return numNode{val: big.NewRat(n, 1)} }
func ratNode(r *big.Rat) Expr      { return numNode{val: new(big.Rat).Set(r)} }
func negate(e Expr) Expr           { return mulNode{factors: []Expr{intNode(-1), e}} }
func subtract(a, b Expr) Expr      { return addNode{terms: []Expr{a, negate(b)}} }
func product(factors ...Expr) Expr { return mulNode{factors: factors} }
func sum(terms ...Expr) Expr       { return addNode{terms: terms} }
func divide(a, b Expr) Expr        { return product(a, powNode{base: b, exp: intNode(-1)}) }
func call(fn string, arg Expr) Expr {
	return callNode{fn: fn, arg: arg}
}

// freeSymbols returns the sorted names of the symbols in e.
func freeSymbols(e Expr) []string {
	seen := make(map[string]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case symNode:
			seen[n.name] = true
		case addNode:
			for _, t := range n.terms {
				walk(t)
			}
		case mulNode:
			for _, f := range n.factors {
				walk(f)
			}
		case powNode:
			walk(n.base)
			walk(n.exp)
		case callNode:
			walk(n.arg)
		}
	}
	walk(e)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func dependsOn(e Expr, v string) bool {
	switch n := e.(type) {
	case symNode:
		return n.name == v
	case addNode:
		for _, t := range n.terms {
			if dependsOn(t, v) {
				return true
			}
		}
	case mulNode:
		for _, f := range n.factors {
			if dependsOn(f, v) {
				return true
			}
		}
	case powNode:
		return dependsOn(n.base, v) || dependsOn(n.exp, v)
	case callNode:
		return dependsOn(n.arg, v)
	}
	return false
}

// substitute replaces every occurrence of symbol v with value.
func substitute(e Expr, v string, value Expr) Expr {
	switch n := e.(type) {
	case symNode:
		if n.name == v {
			return value
		}
		return n
	case addNode:
		terms := make([]Expr, len(n.terms))
		for i, t := range n.terms {
			terms[i] = substitute(t, v, value)
		}
		return addNode{terms: terms}
	case mulNode:
		factors := make([]Expr, len(n.factors))
		for i, f := range n.factors {
			factors[i] = substitute(f, v, value)
		}
		return mulNode{factors: factors}
	case powNode:
		return powNode{base: substitute(n.base, v, value), exp: substitute(n.exp, v, value)}
	case callNode:
		return callNode{fn: n.fn, arg: substitute(n.arg, v, value)}
	default:
		return e
	}
}
