package symbolic

import (
	"math/big"
	"sort"
)

const (
	maxDegree      = 256
	maxDivisorBase = 1_000_000_000_000
)

// upoly is a univariate polynomial with rational coefficients, lowest degree
// first and no trailing zeros.
type upoly []*big.Rat

func (u upoly) trim() upoly {
	n := len(u)
	for n > 0 && u[n-1].Sign() == 0 {
		n--
	}
	return u[:n]
}

func (u upoly) degree() int { return len(u) - 1 }

func (u upoly) lc() *big.Rat { return u[len(u)-1] }

func (u upoly) coef(i int) *big.Rat {
	if i < len(u) {
		return u[i]
	}
	return new(big.Rat)
}

func (u upoly) eval(x *big.Rat) *big.Rat {
	acc := new(big.Rat)
	for i := len(u) - 1; i >= 0; i-- {
		acc.Mul(acc, x)
		acc.Add(acc, u[i])
	}
	return acc
}

func (u upoly) monic() upoly {
	if len(u) == 0 {
		return u
	}
	inv := new(big.Rat).Inv(u.lc())
	out := make(upoly, len(u))
	for i, c := range u {
		out[i] = new(big.Rat).Mul(c, inv)
	}
	return out
}

func upolyDivMod(a, b upoly) (upoly, upoly) {
	rem := make(upoly, len(a))
	for i, c := range a {
		rem[i] = new(big.Rat).Set(c)
	}
	if len(a) < len(b) {
		return nil, rem.trim()
	}
	quo := make(upoly, len(a)-len(b)+1)
	for i := range quo {
		quo[i] = new(big.Rat)
	}
	for len(rem) >= len(b) && len(rem) > 0 {
		shift := len(rem) - len(b)
		factor := new(big.Rat).Quo(rem.lc(), b.lc())
		quo[shift] = factor
		for i, c := range b {
			rem[shift+i] = new(big.Rat).Sub(rem[shift+i], new(big.Rat).Mul(factor, c))
		}
		rem = rem[:len(rem)-1].trim()
	}
	return quo.trim(), rem
}

// upolyGCD returns the monic greatest common divisor.
func upolyGCD(a, b upoly) upoly {
	for len(b) > 0 {
		_, r := upolyDivMod(a, b)
		a, b = b, r
	}
	return a.monic()
}

// toUpoly reads p as a polynomial in a.
func toUpoly(p poly, a *atom) (upoly, bool) {
	var u upoly
	for _, t := range p.terms {
		deg := 0
		switch len(t.powers) {
		case 0:
		case 1:
			pw := t.powers[0]
			if pw.base.key != a.key || !pw.exp.IsInt() || pw.exp.Sign() < 0 || pw.exp.Num().Int64() > maxDegree {
				return nil, false
			}
			deg = int(pw.exp.Num().Int64())
		default:
			return nil, false
		}
		for len(u) <= deg {
			u = append(u, new(big.Rat))
		}
		u[deg] = new(big.Rat).Add(u[deg], t.coef)
	}
	return u.trim(), true
}

func fromUpoly(u upoly, a *atom) poly {
	terms := make([]term, 0, len(u))
	for i, c := range u {
		if c.Sign() == 0 {
			continue
		}
		if i == 0 {
			terms = append(terms, term{coef: c})
			continue
		}
		terms = append(terms, term{coef: c, powers: []power{{base: a, exp: big.NewRat(int64(i), 1)}}})
	}
	return makePoly(terms)
}

// rationalRoots finds every rational root, repeated by multiplicity and in
// ascending order, and returns the polynomial left after dividing them out.
func rationalRoots(u upoly) ([]*big.Rat, upoly) {
	var roots []*big.Rat
	rest := u.trim()

	for len(rest) > 1 && rest[0].Sign() == 0 {
		roots = append(roots, new(big.Rat))
		rest = rest[1:]
	}
	if len(rest) < 2 {
		return roots, rest
	}

	ints := integerCoefficients(rest)
	low, high := new(big.Int).Abs(ints[0]), new(big.Int).Abs(ints[len(ints)-1])
	ps, ok := divisors(low)
	if !ok {
		return roots, rest
	}
	qs, ok := divisors(high)
	if !ok {
		return roots, rest
	}

	seen := make(map[string]bool)
	var candidates []*big.Rat
	for _, p := range ps {
		for _, q := range qs {
			for _, sign := range []int64{1, -1} {
				c := new(big.Rat).SetFrac(new(big.Int).Mul(p, big.NewInt(sign)), q)
				if key := c.RatString(); !seen[key] {
					seen[key] = true
					candidates = append(candidates, c)
				}
			}
		}
	}
	sortRats(candidates)

	for _, c := range candidates {
		for len(rest) > 1 && rest.eval(c).Sign() == 0 {
			roots = append(roots, c)
			rest, _ = upolyDivMod(rest, upoly{new(big.Rat).Neg(c), big.NewRat(1, 1)})
		}
	}
	sortRats(roots)
	return roots, rest
}

// integerCoefficients scales u by the common denominator.
func integerCoefficients(u upoly) []*big.Int {
	lcm := big.NewInt(1)
	for _, c := range u {
		d := c.Denom()
		g := new(big.Int).GCD(nil, nil, lcm, d)
		lcm.Mul(lcm, new(big.Int).Quo(d, g))
	}
	out := make([]*big.Int, len(u))
	for i, c := range u {
		v := new(big.Rat).Mul(c, new(big.Rat).SetInt(lcm))
		out[i] = new(big.Int).Set(v.Num())
	}
	return out
}

// divisors lists the positive divisors of n, or reports false when n is too
// large to enumerate.
func divisors(n *big.Int) ([]*big.Int, bool) {
	if n.Sign() == 0 || !n.IsInt64() || n.Int64() > maxDivisorBase {
		return nil, false
	}
	v := n.Int64()
	var small, large []*big.Int
	for d := int64(1); d*d <= v; d++ {
		if v%d != 0 {
			continue
		}
		small = append(small, big.NewInt(d))
		if d*d != v {
			large = append(large, big.NewInt(v/d))
		}
	}
	for i := len(large) - 1; i >= 0; i-- {
		small = append(small, large[i])
	}
	return small, true
}

// squareFree splits n into s*s*r with r free of small square factors.
func squareFree(n *big.Int) (*big.Int, *big.Int) {
	s := big.NewInt(1)
	r := new(big.Int).Set(n)
	sq := new(big.Int)
	mod := new(big.Int)
	for p := int64(2); p <= 100_000; p++ {
		bp := big.NewInt(p)
		sq.Mul(bp, bp)
		if sq.Cmp(r) > 0 {
			break
		}
		for {
			q, m := new(big.Int).QuoRem(r, sq, mod)
			if m.Sign() != 0 {
				break
			}
			r = q
			s.Mul(s, bp)
		}
	}
	if root := new(big.Int).Sqrt(r); new(big.Int).Mul(root, root).Cmp(r) == 0 {
		s.Mul(s, root)
		r = big.NewInt(1)
	}
	return s, r
}

// iroot returns the exact k-th root of n when one exists.
func iroot(n *big.Int, k int) (*big.Int, bool) {
	if k == 1 {
		return new(big.Int).Set(n), true
	}
	if k == 2 {
		root := new(big.Int).Sqrt(n)
		return root, new(big.Int).Mul(root, root).Cmp(n) == 0
	}
	lo, hi := big.NewInt(1), new(big.Int).Lsh(big.NewInt(1), uint(n.BitLen()/k+1))
	exp := big.NewInt(int64(k))
	for lo.Cmp(hi) <= 0 {
		mid := new(big.Int).Rsh(new(big.Int).Add(lo, hi), 1)
		switch new(big.Int).Exp(mid, exp, nil).Cmp(n) {
		case 0:
			return mid, true
		case -1:
			lo = new(big.Int).Add(mid, big.NewInt(1))
		default:
			hi = new(big.Int).Sub(mid, big.NewInt(1))
		}
	}
	return nil, false
}

func sortRats(rs []*big.Rat) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Cmp(rs[j]) < 0 })
}
