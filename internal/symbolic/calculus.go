package symbolic

import (
	"fmt"
	"math/big"
)

const maxDerivativeOrder = 32

// diff differentiates e with respect to v. The result is not normalized.
func diff(e Expr, v string) Expr {
	if !dependsOn(e, v) {
		return intNode(0)
	}
	switch n := e.(type) {
	case symNode:
		return intNode(1)
	case addNode:
		terms := make([]Expr, len(n.terms))
		for i, t := range n.terms {
			terms[i] = diff(t, v)
		}
		return addNode{terms: terms}
	case mulNode:
		var terms []Expr
		for i := range n.factors {
			if !dependsOn(n.factors[i], v) {
				continue
			}
			factors := make([]Expr, len(n.factors))
			copy(factors, n.factors)
			factors[i] = diff(n.factors[i], v)
			terms = append(terms, mulNode{factors: factors})
		}
		return addNode{terms: terms}
	case powNode:
		baseDep, expDep := dependsOn(n.base, v), dependsOn(n.exp, v)
		switch {
		case !expDep:
			return product(n.exp, powNode{base: n.base, exp: sum(n.exp, intNode(-1))}, diff(n.base, v))
		case !baseDep:
			return product(n, call("log", n.base), diff(n.exp, v))
		default:
			return product(n, sum(
				product(diff(n.exp, v), call("log", n.base)),
				product(n.exp, diff(n.base, v), powNode{base: n.base, exp: intNode(-1)}),
			))
		}
	case callNode:
		du := diff(n.arg, v)
		switch n.fn {
		case "sin":
			return product(call("cos", n.arg), du)
		case "cos":
			return negate(product(call("sin", n.arg), du))
		case "tan":
			return product(sum(intNode(1), powNode{base: call("tan", n.arg), exp: intNode(2)}), du)
		case "exp":
			return product(n, du)
		case "log":
			return divide(du, n.arg)
		}
	}
	return intNode(0)
}

func (nz normalizer) derivative(r ratFunc, v string, order int) (ratFunc, error) {
	for range order {
		d, err := nz.norm(diff(r.expr(), v))
		if err != nil {
			return ratFunc{}, err
		}
		r = d
	}
	return r, nil
}

// integrate returns an antiderivative of r with respect to v.
func (nz normalizer) integrate(r ratFunc, v string) (Expr, error) {
	if !r.den.dependsOn(v) {
		parts := make([]Expr, 0, len(r.num.terms))
		for _, t := range r.num.terms {
			part, err := nz.integrateTerm(t, v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		if r.den.isOne() {
			return sum(parts...), nil
		}
		return divide(sum(parts...), r.den.expr()), nil
	}

	if len(r.den.terms) == 1 {
		// A monomial denominator becomes negative exponents.
		d := r.den.terms[0]
		inverse := term{coef: new(big.Rat).Inv(d.coef)}
		for _, p := range d.powers {
			inverse.powers = append(inverse.powers, power{base: p.base, exp: new(big.Rat).Neg(p.exp)})
		}
		parts := make([]Expr, 0, len(r.num.terms))
		for _, t := range r.num.terms {
			part, err := nz.integrateTerm(foldTerm(mulTerm(t, inverse)), v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		return sum(parts...), nil
	}
	return nz.integrateRational(r, v)
}

func (nz normalizer) integrateTerm(t term, v string) (Expr, error) {
	var dep []power
	rest := term{coef: t.coef}
	for _, p := range t.powers {
		if p.base.dependsOn(v) {
			dep = append(dep, p)
		} else {
			rest.powers = append(rest.powers, p)
		}
	}
	x := symNode{name: v}
	coef := rest.expr()

	if len(dep) == 0 {
		return product(coef, x), nil
	}
	if len(dep) > 1 {
		return nil, noAntiderivative(t)
	}

	p := dep[0]
	minusOne := big.NewRat(-1, 1)
	switch p.base.kind {
	case atomSym:
		if p.exp.Cmp(minusOne) == 0 {
			return product(coef, call("log", x)), nil
		}
		next := new(big.Rat).Add(p.exp, ratOne)
		return product(coef, ratNode(new(big.Rat).Inv(next)), powNode{base: x, exp: ratNode(next)}), nil
	case atomCall:
		if p.exp.Cmp(ratOne) != 0 {
			return nil, noAntiderivative(t)
		}
		u := p.base.arg.expr()
		slope, err := nz.linearSlope(*p.base.arg, v)
		if err != nil {
			return nil, noAntiderivative(t)
		}
		inv := powNode{base: slope, exp: intNode(-1)}
		switch p.base.name {
		case "sin":
			return product(coef, inv, negate(call("cos", u))), nil
		case "cos":
			return product(coef, inv, call("sin", u)), nil
		case "exp":
			return product(coef, inv, call("exp", u)), nil
		case "tan":
			return product(coef, inv, negate(call("log", call("cos", u)))), nil
		case "log":
			return product(coef, inv, subtract(product(u, call("log", u)), u)), nil
		}
	case atomGroup:
		u := p.base.arg.expr()
		slope, err := nz.linearSlope(*p.base.arg, v)
		if err != nil {
			return nil, noAntiderivative(t)
		}
		inv := powNode{base: slope, exp: intNode(-1)}
		if p.exp.Cmp(minusOne) == 0 {
			return product(coef, inv, call("log", u)), nil
		}
		next := new(big.Rat).Add(p.exp, ratOne)
		return product(coef, inv, ratNode(new(big.Rat).Inv(next)), powNode{base: u, exp: ratNode(next)}), nil
	}
	return nil, noAntiderivative(t)
}

// linearSlope returns the derivative of a linear argument, failing when the
// argument is not linear in v.
func (nz normalizer) linearSlope(arg ratFunc, v string) (Expr, error) {
	d, err := nz.norm(diff(arg.expr(), v))
	if err != nil {
		return nil, err
	}
	if d.dependsOn(v) || d.isZero() {
		return nil, fmt.Errorf("%w: argument is not linear in %s", ErrComputation, v)
	}
	return d.expr(), nil
}

// integrateRational handles quotients of polynomials in v whose denominator
// has degree one or two with rational roots.
func (nz normalizer) integrateRational(r ratFunc, v string) (Expr, error) {
	unsupported := fmt.Errorf("%w: no antiderivative found for %s", ErrComputation, r.text())
	a, ok := soleAtom(r.num, r.den)
	if !ok || a.kind != atomSym || a.name != v {
		return nil, unsupported
	}
	un, _ := toUpoly(r.num, a)
	ud, ok := toUpoly(r.den, a)
	if !ok {
		return nil, unsupported
	}

	quo, rem := upolyDivMod(un, ud)
	x := symNode{name: v}
	var parts []Expr
	if len(quo) > 0 {
		part, err := nz.integrate(rfPoly(fromUpoly(quo, a)), v)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	if len(rem) == 0 {
		return sum(parts...), nil
	}

	lc := ud.lc()
	switch ud.degree() {
	case 1:
		c := new(big.Rat).Quo(rem.coef(0), lc)
		parts = append(parts, product(ratNode(c), call("log", fromUpoly(ud, a).expr())))
	case 2:
		roots, _ := rationalRoots(ud)
		if len(roots) != 2 {
			return nil, unsupported
		}
		r1, r2 := roots[0], roots[1]
		if r1.Cmp(r2) == 0 {
			// rem = c1*(x - r1) + (c1*r1 + c0)
			c1, c0 := rem.coef(1), rem.coef(0)
			k := new(big.Rat).Add(new(big.Rat).Mul(c1, r1), c0)
			shifted := subtract(x, ratNode(r1))
			parts = append(parts,
				product(ratNode(new(big.Rat).Quo(c1, lc)), call("log", shifted)),
				product(ratNode(new(big.Rat).Neg(new(big.Rat).Quo(k, lc))), powNode{base: shifted, exp: intNode(-1)}),
			)
			break
		}
		gap := new(big.Rat).Sub(r1, r2)
		first := new(big.Rat).Quo(rem.eval(r1), new(big.Rat).Mul(lc, gap))
		second := new(big.Rat).Quo(rem.eval(r2), new(big.Rat).Mul(lc, new(big.Rat).Neg(gap)))
		parts = append(parts,
			product(ratNode(first), call("log", subtract(x, ratNode(r1)))),
			product(ratNode(second), call("log", subtract(x, ratNode(r2)))),
		)
	default:
		return nil, unsupported
	}
	return sum(parts...), nil
}

func noAntiderivative(t term) error {
	return fmt.Errorf("%w: no antiderivative found for %s", ErrComputation, rfPoly(makePoly([]term{t})).text())
}
