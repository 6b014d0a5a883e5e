package symbolic

import (
	"fmt"
	"math"
	"math/big"
	"sort"
)

type solution struct {
	value  ratFunc
	re, im float64
}

// solve finds the roots of e = 0 in v. Polynomials are solved exactly:
// rational roots first, then a remaining factor of degree at most two.
func (nz normalizer) solve(e Expr, v string) ([]ratFunc, error) {
	r, err := nz.norm(e)
	if err != nil {
		return nil, err
	}
	if r.num.isZero() {
		return nil, fmt.Errorf("%w: the equation holds for every value of %s", ErrComputation, v)
	}
	if !r.num.dependsOn(v) {
		return nil, nil
	}

	x := symAtom(v)
	u, ok := toUpoly(r.num, x)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a polynomial equation in %s with rational coefficients",
			ErrComputation, r.num.text(), v)
	}

	var found []solution
	roots, rest := rationalRoots(u)
	for _, root := range roots {
		if nz.vanishes(r.den, v, root) {
			continue
		}
		f, _ := root.Float64()
		found = append(found, solution{value: rfConst(root), re: f})
	}

	switch rest.degree() {
	case 0:
	case 1:
		root := new(big.Rat).Neg(new(big.Rat).Quo(rest[0], rest[1]))
		if !nz.vanishes(r.den, v, root) {
			f, _ := root.Float64()
			found = append(found, solution{value: rfConst(root), re: f})
		}
	case 2:
		quad, err := nz.quadratic(rest)
		if err != nil {
			return nil, err
		}
		found = append(found, quad...)
	default:
		return nil, fmt.Errorf("%w: no closed-form solution for a degree %d factor without rational roots",
			ErrComputation, rest.degree())
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].re != found[j].re {
			return found[i].re < found[j].re
		}
		return found[i].im < found[j].im
	})

	out := make([]ratFunc, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, s := range found {
		key := s.value.key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s.value)
	}
	return out, nil
}

// vanishes reports whether p is zero at v = value.
func (nz normalizer) vanishes(p poly, v string, value *big.Rat) bool {
	if !p.dependsOn(v) {
		return false
	}
	at, err := nz.norm(substitute(p.expr(), v, ratNode(value)))
	return err == nil && at.isZero()
}

// quadratic returns both roots of c2*x**2 + c1*x + c0 in closed form.
func (nz normalizer) quadratic(u upoly) ([]solution, error) {
	a, b, c := u[2], u[1], u[0]
	twoA := new(big.Rat).Mul(big.NewRat(2, 1), a)
	disc := new(big.Rat).Sub(new(big.Rat).Mul(b, b), new(big.Rat).Mul(big.NewRat(4, 1), new(big.Rat).Mul(a, c)))
	center := new(big.Rat).Neg(new(big.Rat).Quo(b, twoA))
	centerF, _ := center.Float64()

	if disc.Sign() == 0 {
		return []solution{{value: rfConst(center), re: centerF}}, nil
	}

	// sqrt(|disc|) = s*sqrt(r)/den
	m := new(big.Int).Mul(new(big.Int).Abs(disc.Num()), disc.Denom())
	s, rad := squareFree(m)
	offset := new(big.Rat).SetFrac(s, new(big.Int).Mul(disc.Denom(), new(big.Int).Abs(twoA.Num())))
	offset.Mul(offset, new(big.Rat).SetInt(twoA.Denom()))

	var radical Expr = intNode(1)
	if rad.Cmp(big.NewInt(1)) != 0 {
		radical = powNode{base: numNode{val: new(big.Rat).SetInt(rad)}, exp: ratNode(ratHalf)}
	}
	if disc.Sign() < 0 {
		radical = product(radical, constNode{name: "I"})
	}

	offsetF, _ := offset.Float64()
	radF, _ := new(big.Float).SetInt(rad).Float64()
	magnitude := offsetF * math.Sqrt(radF)

	out := make([]solution, 0, 2)
	for _, sign := range []int64{-1, 1} {
		value, err := nz.norm(sum(ratNode(center), product(ratNode(new(big.Rat).Mul(big.NewRat(sign, 1), offset)), radical)))
		if err != nil {
			return nil, err
		}
		sol := solution{value: value, re: centerF}
		if disc.Sign() > 0 {
			sol.re += float64(sign) * magnitude
		} else {
			sol.im = float64(sign) * magnitude
		}
		out = append(out, sol)
	}
	return out, nil
}
