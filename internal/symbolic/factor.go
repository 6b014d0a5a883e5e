package symbolic

import (
	"math/big"
	"sort"
	"strconv"
	"strings"
)

type polyFactor struct {
	p    poly
	mult int
}

// factorPoly writes p as coef times the product of its factors. Numeric
// content and common monomials are pulled out first; a univariate remainder
// is split into linear factors over its rational roots.
func factorPoly(p poly) (*big.Rat, []polyFactor) {
	if c, ok := p.constant(); ok {
		return c, nil
	}

	var factors []polyFactor
	rest := p
	if mono := commonMonomial(p.terms); len(mono) > 0 {
		rest = divideMonomial(p, mono)
		for _, m := range mono {
			factors = append(factors, polyFactor{p: atomPoly(m.base, m.exp), mult: 1})
		}
	}
	rest = primitive(rest)

	split := false
	if a, ok := soleAtom(rest); ok {
		if u, ok := toUpoly(rest, a); ok && u.degree() >= 2 {
			roots, left := rationalRoots(u)
			for i := 0; i < len(roots); {
				j := i
				for j < len(roots) && roots[j].Cmp(roots[i]) == 0 {
					j++
				}
				// root n/d gives the factor d*x - n
				linear := upoly{new(big.Rat).Neg(new(big.Rat).SetInt(roots[i].Num())), new(big.Rat).SetInt(roots[i].Denom())}
				factors = append(factors, polyFactor{p: fromUpoly(linear, a), mult: j - i})
				i = j
			}
			if left.degree() >= 1 {
				factors = append(factors, polyFactor{p: primitive(fromUpoly(left, a)), mult: 1})
			}
			split = true
		}
	}
	if !split && !rest.isOne() {
		factors = append(factors, polyFactor{p: rest, mult: 1})
	}

	expanded := constPoly(ratOne)
	for _, f := range factors {
		expanded = mulPoly(expanded, powPoly(f.p, f.mult))
	}
	coef := new(big.Rat).Quo(p.terms[0].coef, expanded.terms[0].coef)

	sort.SliceStable(factors, func(i, j int) bool { return factorLess(factors[i], factors[j]) })
	return coef, factors
}

// primitive divides p by its rational content, leaving integer coefficients
// without a common divisor and a positive leading coefficient.
func primitive(p poly) poly {
	if p.isZero() {
		return p
	}
	num, den := new(big.Int), big.NewInt(1)
	for _, t := range p.terms {
		num.GCD(nil, nil, num, new(big.Int).Abs(t.coef.Num()))
		d := t.coef.Denom()
		g := new(big.Int).GCD(nil, nil, den, d)
		den.Mul(den, new(big.Int).Quo(d, g))
	}
	content := new(big.Rat).SetFrac(num, den)
	if p.terms[0].coef.Sign() < 0 {
		content.Neg(content)
	}
	return scalePoly(p, new(big.Rat).Inv(content))
}

func factorLess(a, b polyFactor) bool {
	ma, mb := len(a.p.terms) == 1, len(b.p.terms) == 1
	if ma != mb {
		return ma
	}
	if c := degree(a.p.terms[0]).Cmp(degree(b.p.terms[0])); c != 0 {
		return c < 0
	}
	if c := constantTerm(a.p).Cmp(constantTerm(b.p)); c != 0 {
		return c < 0
	}
	return a.p.key() < b.p.key()
}

func constantTerm(p poly) *big.Rat {
	for _, t := range p.terms {
		if len(t.powers) == 0 {
			return t.coef
		}
	}
	return new(big.Rat)
}

// factored is a factorization of a quotient: coef * num / den.
type factored struct {
	coef     *big.Rat
	num, den []polyFactor
}

func factorRatFunc(r ratFunc) factored {
	cn, num := factorPoly(r.num)
	cd, den := factorPoly(r.den)
	return factored{coef: new(big.Rat).Quo(cn, cd), num: num, den: den}
}

func (f factored) text() string  { return textRenderer.factored(f) }
func (f factored) latex() string { return latexRenderer.factored(f) }

func (rd renderer) factored(f factored) string {
	if f.coef.Sign() == 0 {
		return "0"
	}
	hasDen := len(f.den) > 0 || !f.coef.IsInt()
	num := rd.factorProduct(f.coef.Num(), f.num, hasDen)
	if !hasDen {
		return num
	}
	den := rd.factorProduct(f.coef.Denom(), f.den, true)
	if rd.latex {
		return `\frac{` + num + `}{` + den + `}`
	}
	parts := len(f.den)
	if f.coef.Denom().Cmp(big.NewInt(1)) != 0 {
		parts++
	}
	if parts > 1 || (len(f.den) == 1 && f.den[0].mult > 1) {
		den = "(" + den + ")"
	}
	return num + "/" + den
}

// factorProduct renders k times the factors. Multi-term factors are grouped
// unless they stand alone.
func (rd renderer) factorProduct(k *big.Int, fs []polyFactor, inFraction bool) string {
	alone := len(fs) == 1 && fs[0].mult == 1 && k.CmpAbs(big.NewInt(1)) == 0 && !inFraction
	if inFraction && rd.latex && len(fs) == 1 && fs[0].mult == 1 && k.CmpAbs(big.NewInt(1)) == 0 {
		alone = true
	}
	parts := make([]string, 0, len(fs)+1)
	for _, f := range fs {
		s := rd.poly(f.p)
		if len(f.p.terms) > 1 && !alone {
			s = rd.group(s)
		}
		if f.mult > 1 {
			if len(f.p.terms) == 1 && (len(f.p.terms[0].powers) > 1 || f.p.terms[0].powers[0].exp.Cmp(ratOne) != 0) {
				s = rd.group(s)
			}
			if rd.latex {
				s += "^{" + strconv.Itoa(f.mult) + "}"
			} else {
				s += "**" + strconv.Itoa(f.mult)
			}
		}
		parts = append(parts, s)
	}

	sep := "*"
	if rd.latex {
		sep = " "
	}
	body := strings.Join(parts, sep)
	switch {
	case len(parts) == 0:
		return k.String()
	case k.Cmp(big.NewInt(1)) == 0:
		return body
	case k.Cmp(big.NewInt(-1)) == 0:
		return "-" + body
	default:
		return k.String() + sep + body
	}
}
