package symbolic

import (
	"math/big"
	"sort"
	"strings"
)

// Expressions are normalized into quotients of generalized polynomials: sums
// of rational coefficients times products of atoms raised to rational powers.
// Atoms are symbols, constants, function calls and irreducible powers.

type atomKind int

const (
	atomSym   atomKind = iota
	atomConst          // pi, E, I
	atomNum            // positive integer under a fractional exponent
	atomCall
	atomGroup // non-monomial base under a fractional exponent
	atomPow   // base raised to a non-numeric exponent
)

type atom struct {
	kind     atomKind
	name     string
	num      *big.Int
	arg      *ratFunc // call argument, group or pow base
	exp      *ratFunc // pow exponent
	key      string
	symbolic bool
}

func symAtom(name string) *atom {
	return &atom{kind: atomSym, name: name, key: name, symbolic: true}
}

func constAtom(name string) *atom {
	return &atom{kind: atomConst, name: name, key: name}
}

func numAtom(n *big.Int) *atom {
	return &atom{kind: atomNum, num: new(big.Int).Set(n), key: n.String()}
}

func callAtom(fn string, arg ratFunc) *atom {
	return &atom{kind: atomCall, name: fn, arg: &arg, key: fn + "(" + arg.text() + ")", symbolic: arg.symbolic()}
}

func groupAtom(base ratFunc) *atom {
	return &atom{kind: atomGroup, arg: &base, key: "(" + base.text() + ")", symbolic: base.symbolic()}
}

func powAtom(base, exp ratFunc) *atom {
	return &atom{
		kind:     atomPow,
		arg:      &base,
		exp:      &exp,
		key:      "(" + base.text() + ")**(" + exp.text() + ")",
		symbolic: base.symbolic() || exp.symbolic(),
	}
}

func (a *atom) dependsOn(v string) bool {
	switch a.kind {
	case atomSym:
		return a.name == v
	case atomCall, atomGroup:
		return a.arg.dependsOn(v)
	case atomPow:
		return a.arg.dependsOn(v) || a.exp.dependsOn(v)
	}
	return false
}

func (a *atom) expr() Expr {
	switch a.kind {
	case atomSym:
		return symNode{name: a.name}
	case atomConst:
		return constNode{name: a.name}
	case atomNum:
		return numNode{val: new(big.Rat).SetInt(a.num)}
	case atomCall:
		return callNode{fn: a.name, arg: a.arg.expr()}
	case atomGroup:
		return a.arg.expr()
	default:
		return powNode{base: a.arg.expr(), exp: a.exp.expr()}
	}
}

// power is an atom raised to a non-zero rational exponent.
type power struct {
	base *atom
	exp  *big.Rat
}

type term struct {
	coef   *big.Rat
	powers []power // sorted by base key
}

func (t term) monoKey() string {
	var b strings.Builder
	for i, p := range t.powers {
		if i > 0 {
			b.WriteByte('*')
		}
		b.WriteString(p.base.key)
		b.WriteByte('^')
		b.WriteString(p.exp.RatString())
	}
	return b.String()
}

func (t term) symbolic() bool {
	for _, p := range t.powers {
		if p.base.symbolic {
			return true
		}
	}
	return false
}

func (t term) expr() Expr {
	factors := []Expr{ratNode(t.coef)}
	for _, p := range t.powers {
		if p.exp.Cmp(ratOne) == 0 {
			factors = append(factors, p.base.expr())
			continue
		}
		factors = append(factors, powNode{base: p.base.expr(), exp: ratNode(p.exp)})
	}
	return mulNode{factors: factors}
}

type poly struct {
	terms []term // canonical order, distinct monomials, non-zero coefficients
}

var (
	ratZero = big.NewRat(0, 1)
	ratOne  = big.NewRat(1, 1)
	ratHalf = big.NewRat(1, 2)
)

func constPoly(c *big.Rat) poly {
	if c.Sign() == 0 {
		return poly{}
	}
	return poly{terms: []term{{coef: new(big.Rat).Set(c)}}}
}

func atomPoly(a *atom, exp *big.Rat) poly {
	return makePoly([]term{{coef: ratOne, powers: []power{{base: a, exp: new(big.Rat).Set(exp)}}}})
}

// makePoly folds, merges and sorts terms into canonical form.
func makePoly(terms []term) poly {
	index := make(map[string]int, len(terms))
	merged := make([]term, 0, len(terms))
	for _, t := range terms {
		t = foldTerm(t)
		if t.coef.Sign() == 0 {
			continue
		}
		key := t.monoKey()
		if i, ok := index[key]; ok {
			merged[i].coef = new(big.Rat).Add(merged[i].coef, t.coef)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, term{coef: new(big.Rat).Set(t.coef), powers: t.powers})
	}

	out := merged[:0]
	for _, t := range merged {
		if t.coef.Sign() != 0 {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return termLess(out[i], out[j]) })
	return poly{terms: out}
}

// foldTerm merges powers of equal bases and moves numeric parts into the
// coefficient: integer powers of integers, square factors under square roots,
// and integer powers of I.
func foldTerm(t term) term {
	coef := new(big.Rat).Set(t.coef)
	powers := t.powers
	for range 8 {
		changed := false
		var next []power
		for _, p := range mergePowers(powers) {
			folded, keep, did := foldPower(coef, p)
			coef = folded
			changed = changed || did
			if keep != nil {
				next = append(next, *keep)
			}
		}
		powers = next
		if !changed {
			break
		}
	}
	return term{coef: coef, powers: mergePowers(powers)}
}

// mergePowers sorts powers by base and adds exponents of equal bases.
func mergePowers(powers []power) []power {
	sorted := make([]power, len(powers))
	copy(sorted, powers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].base.key < sorted[j].base.key })

	out := make([]power, 0, len(sorted))
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].base.key == p.base.key {
			out[n-1] = power{base: out[n-1].base, exp: new(big.Rat).Add(out[n-1].exp, p.exp)}
			continue
		}
		out = append(out, p)
	}

	kept := out[:0]
	for _, p := range out {
		if p.exp.Sign() != 0 {
			kept = append(kept, p)
		}
	}
	return kept
}

func foldPower(coef *big.Rat, p power) (*big.Rat, *power, bool) {
	switch p.base.kind {
	case atomNum:
		n := p.base.num
		whole := new(big.Int).Div(p.exp.Num(), p.exp.Denom())
		frac := new(big.Rat).Sub(p.exp, new(big.Rat).SetInt(whole))
		changed := false
		if whole.Sign() != 0 {
			coef = new(big.Rat).Mul(coef, ratPowInt(new(big.Rat).SetInt(n), whole.Int64()))
			changed = true
		}
		if frac.Sign() == 0 || n.Cmp(big.NewInt(1)) == 0 {
			return coef, nil, true
		}
		q := frac.Denom()
		if q.IsInt64() && q.Int64() <= 64 {
			if root, ok := iroot(n, int(q.Int64())); ok {
				coef = new(big.Rat).Mul(coef, ratPowInt(new(big.Rat).SetInt(root), frac.Num().Int64()))
				return coef, nil, true
			}
		}
		if frac.Cmp(ratHalf) == 0 {
			s, r := squareFree(n)
			if s.Cmp(big.NewInt(1)) != 0 {
				coef = new(big.Rat).Mul(coef, new(big.Rat).SetInt(s))
				if r.Cmp(big.NewInt(1)) == 0 {
					return coef, nil, true
				}
				return coef, &power{base: numAtom(r), exp: frac}, true
			}
		}
		return coef, &power{base: p.base, exp: frac}, changed
	case atomConst:
		if p.base.name != "I" || !p.exp.IsInt() {
			return coef, &p, false
		}
		k := new(big.Int).Mod(p.exp.Num(), big.NewInt(4)).Int64()
		switch k {
		case 0:
			return coef, nil, true
		case 1:
			if p.exp.Cmp(ratOne) == 0 {
				return coef, &p, false
			}
			return coef, &power{base: p.base, exp: big.NewRat(1, 1)}, true
		case 2:
			return new(big.Rat).Neg(coef), nil, true
		default:
			return new(big.Rat).Neg(coef), &power{base: p.base, exp: big.NewRat(1, 1)}, true
		}
	}
	return coef, &p, false
}

// termLess orders symbolic terms by descending degree, then plain numbers,
// then terms made only of constants.
func termLess(a, b term) bool {
	ca, cb := termClass(a), termClass(b)
	if ca != cb {
		return ca < cb
	}
	if ca == 0 {
		if c := degree(a).Cmp(degree(b)); c != 0 {
			return c > 0
		}
	}
	if c := lexCompare(a, b); c != 0 {
		return c < 0
	}
	return a.monoKey() < b.monoKey()
}

func termClass(t term) int {
	switch {
	case t.symbolic():
		return 0
	case len(t.powers) == 0:
		return 1
	default:
		return 2
	}
}

func degree(t term) *big.Rat {
	d := new(big.Rat)
	for _, p := range t.powers {
		if p.base.symbolic {
			d.Add(d, p.exp)
		}
	}
	return d
}

// lexCompare returns -1 when a has the larger exponent at the first base
// where the two terms differ.
func lexCompare(a, b term) int {
	i, j := 0, 0
	for i < len(a.powers) || j < len(b.powers) {
		var ka, kb string
		if i < len(a.powers) {
			ka = a.powers[i].base.key
		}
		if j < len(b.powers) {
			kb = b.powers[j].base.key
		}
		switch {
		case j >= len(b.powers) || (i < len(a.powers) && ka < kb):
			if a.powers[i].exp.Sign() > 0 {
				return -1
			}
			return 1
		case i >= len(a.powers) || kb < ka:
			if b.powers[j].exp.Sign() > 0 {
				return 1
			}
			return -1
		default:
			if c := a.powers[i].exp.Cmp(b.powers[j].exp); c != 0 {
				return -c
			}
			i++
			j++
		}
	}
	return 0
}

func (p poly) isZero() bool { return len(p.terms) == 0 }

// constant returns the value of p when it has no atoms.
func (p poly) constant() (*big.Rat, bool) {
	switch {
	case len(p.terms) == 0:
		return new(big.Rat), true
	case len(p.terms) == 1 && len(p.terms[0].powers) == 0:
		return new(big.Rat).Set(p.terms[0].coef), true
	}
	return nil, false
}

func (p poly) isOne() bool {
	c, ok := p.constant()
	return ok && c.Cmp(ratOne) == 0
}

func (p poly) symbolic() bool {
	for _, t := range p.terms {
		if t.symbolic() {
			return true
		}
	}
	return false
}

func (p poly) dependsOn(v string) bool {
	for _, t := range p.terms {
		for _, pw := range t.powers {
			if pw.base.dependsOn(v) {
				return true
			}
		}
	}
	return false
}

func (p poly) key() string {
	parts := make([]string, len(p.terms))
	for i, t := range p.terms {
		parts[i] = t.coef.RatString() + "·" + t.monoKey()
	}
	return strings.Join(parts, " + ")
}

func (p poly) expr() Expr {
	terms := make([]Expr, len(p.terms))
	for i, t := range p.terms {
		terms[i] = t.expr()
	}
	return addNode{terms: terms}
}

func addPoly(a, b poly) poly {
	terms := make([]term, 0, len(a.terms)+len(b.terms))
	terms = append(terms, a.terms...)
	terms = append(terms, b.terms...)
	return makePoly(terms)
}

func scalePoly(p poly, c *big.Rat) poly {
	terms := make([]term, len(p.terms))
	for i, t := range p.terms {
		terms[i] = term{coef: new(big.Rat).Mul(t.coef, c), powers: t.powers}
	}
	return makePoly(terms)
}

func mulTerm(a, b term) term {
	powers := make([]power, 0, len(a.powers)+len(b.powers))
	powers = append(powers, a.powers...)
	powers = append(powers, b.powers...)
	return term{coef: new(big.Rat).Mul(a.coef, b.coef), powers: powers}
}

func mulPoly(a, b poly) poly {
	terms := make([]term, 0, len(a.terms)*len(b.terms))
	for _, ta := range a.terms {
		for _, tb := range b.terms {
			terms = append(terms, mulTerm(ta, tb))
		}
	}
	return makePoly(terms)
}

func powPoly(p poly, n int) poly {
	result := constPoly(ratOne)
	base := p
	for n > 0 {
		if n&1 == 1 {
			result = mulPoly(result, base)
		}
		n >>= 1
		if n > 0 {
			base = mulPoly(base, base)
		}
	}
	return result
}

// powTerm raises a single term to a rational power, distributing it over the
// coefficient and every atom.
func powTerm(t term, e *big.Rat) poly {
	powers := make([]power, 0, len(t.powers)+2)
	if t.coef.Sign() < 0 {
		powers = append(powers, power{base: constAtom("I"), exp: new(big.Rat).Mul(e, big.NewRat(2, 1))})
	}
	abs := new(big.Rat).Abs(t.coef)
	if abs.Num().Cmp(big.NewInt(1)) != 0 {
		powers = append(powers, power{base: numAtom(abs.Num()), exp: new(big.Rat).Set(e)})
	}
	if abs.Denom().Cmp(big.NewInt(1)) != 0 {
		powers = append(powers, power{base: numAtom(abs.Denom()), exp: new(big.Rat).Neg(e)})
	}
	for _, p := range t.powers {
		powers = append(powers, power{base: p.base, exp: new(big.Rat).Mul(p.exp, e)})
	}
	return makePoly([]term{{coef: ratOne, powers: powers}})
}

// divideMonomial divides every term of p by the product of powers.
func divideMonomial(p poly, mono []power) poly {
	inverse := make([]power, len(mono))
	for i, m := range mono {
		inverse[i] = power{base: m.base, exp: new(big.Rat).Neg(m.exp)}
	}
	terms := make([]term, len(p.terms))
	for i, t := range p.terms {
		terms[i] = mulTerm(t, term{coef: ratOne, powers: inverse})
	}
	return makePoly(terms)
}

// commonMonomial returns, for each base present in every term, its smallest
// exponent when that exponent is positive.
func commonMonomial(terms []term) []power {
	if len(terms) == 0 {
		return nil
	}
	mins := make(map[string]power)
	for _, p := range terms[0].powers {
		mins[p.base.key] = p
	}
	for _, t := range terms[1:] {
		present := make(map[string]*big.Rat, len(t.powers))
		for _, p := range t.powers {
			present[p.base.key] = p.exp
		}
		for key, m := range mins {
			exp, ok := present[key]
			if !ok {
				delete(mins, key)
				continue
			}
			if exp.Cmp(m.exp) < 0 {
				mins[key] = power{base: m.base, exp: exp}
			}
		}
	}

	var mono []power
	for _, m := range mins {
		if m.exp.Sign() > 0 {
			mono = append(mono, power{base: m.base, exp: new(big.Rat).Set(m.exp)})
		}
	}
	sort.Slice(mono, func(i, j int) bool { return mono[i].base.key < mono[j].base.key })
	return mono
}

// ratFunc is a normalized quotient. den is never zero and is one whenever it
// has no atoms.
type ratFunc struct {
	num, den poly
}

func rfConst(c *big.Rat) ratFunc {
	return ratFunc{num: constPoly(c), den: constPoly(ratOne)}
}

func rfPoly(p poly) ratFunc {
	return ratFunc{num: p, den: constPoly(ratOne)}
}

func (r ratFunc) constant() (*big.Rat, bool) {
	if !r.den.isOne() {
		return nil, false
	}
	return r.num.constant()
}

func (r ratFunc) isZero() bool                   { return r.num.isZero() }
func (r ratFunc) symbolic() bool                 { return r.num.symbolic() || r.den.symbolic() }
func (r ratFunc) dependsOn(v string) bool        { return r.num.dependsOn(v) || r.den.dependsOn(v) }
func (r ratFunc) key() string                    { return r.num.key() + " / " + r.den.key() }
func (r ratFunc) equal(other ratFunc) bool       { return r.key() == other.key() }
func (r ratFunc) sameDenominator(o ratFunc) bool { return r.den.key() == o.den.key() }

func (r ratFunc) expr() Expr {
	if r.den.isOne() {
		return r.num.expr()
	}
	return divide(r.num.expr(), r.den.expr())
}

// soleAtom returns the only atom appearing in the polys when every exponent is
// a non-negative integer.
func soleAtom(polys ...poly) (*atom, bool) {
	var found *atom
	for _, p := range polys {
		for _, t := range p.terms {
			for _, pw := range t.powers {
				if !pw.exp.IsInt() || pw.exp.Sign() < 0 {
					return nil, false
				}
				if found == nil {
					found = pw.base
					continue
				}
				if found.key != pw.base.key {
					return nil, false
				}
			}
		}
	}
	return found, found != nil
}

// ratPowInt returns r**n for a small integer n.
func ratPowInt(r *big.Rat, n int64) *big.Rat {
	neg := n < 0
	if neg {
		n = -n
	}
	num := new(big.Int).Exp(r.Num(), big.NewInt(n), nil)
	den := new(big.Int).Exp(r.Denom(), big.NewInt(n), nil)
	if neg {
		num, den = den, num
	}
	if den.Sign() < 0 {
		num.Neg(num)
		den.Neg(den)
	}
	return new(big.Rat).SetFrac(num, den)
}
