package symbolic

import (
	"fmt"
	"math/big"
)

const (
	maxExponent       = 1000
	maxExpandExponent = 64
)

// normalizer rewrites expression trees into canonical quotients. With cancel
// set, common polynomial factors of a univariate numerator and denominator are
// divided out.
type normalizer struct {
	cancel bool
}

func (nz normalizer) norm(e Expr) (ratFunc, error) {
	switch n := e.(type) {
	case numNode:
		return rfConst(n.val), nil
	case symNode:
		return rfPoly(atomPoly(symAtom(n.name), ratOne)), nil
	case constNode:
		return rfPoly(atomPoly(constAtom(n.name), ratOne)), nil
	case addNode:
		acc := rfConst(ratZero)
		for _, t := range n.terms {
			r, err := nz.norm(t)
			if err != nil {
				return ratFunc{}, err
			}
			acc = nz.add(acc, r)
		}
		return acc, nil
	case mulNode:
		acc := rfConst(ratOne)
		for _, f := range n.factors {
			r, err := nz.norm(f)
			if err != nil {
				return ratFunc{}, err
			}
			acc = nz.mul(acc, r)
		}
		return acc, nil
	case powNode:
		return nz.pow(n)
	case callNode:
		arg, err := nz.norm(n.arg)
		if err != nil {
			return ratFunc{}, err
		}
		return nz.call(n.fn, arg)
	default:
		return ratFunc{}, fmt.Errorf("%w: unknown expression node %T", ErrComputation, e)
	}
}

func (nz normalizer) add(a, b ratFunc) ratFunc {
	if a.sameDenominator(b) {
		return nz.reduce(ratFunc{num: addPoly(a.num, b.num), den: a.den})
	}
	return nz.reduce(ratFunc{
		num: addPoly(mulPoly(a.num, b.den), mulPoly(b.num, a.den)),
		den: mulPoly(a.den, b.den),
	})
}

func (nz normalizer) mul(a, b ratFunc) ratFunc {
	return nz.reduce(ratFunc{num: mulPoly(a.num, b.num), den: mulPoly(a.den, b.den)})
}

func (nz normalizer) pow(n powNode) (ratFunc, error) {
	base, err := nz.norm(n.base)
	if err != nil {
		return ratFunc{}, err
	}
	exp, err := nz.norm(n.exp)
	if err != nil {
		return ratFunc{}, err
	}
	if e, ok := exp.constant(); ok {
		return nz.powRat(base, e)
	}

	if isConstAtom(base, "E") {
		return nz.call("exp", exp)
	}
	if c, ok := base.constant(); ok && c.Cmp(ratOne) == 0 {
		return rfConst(ratOne), nil
	}
	return rfPoly(atomPoly(powAtom(base, exp), ratOne)), nil
}

func (nz normalizer) powRat(base ratFunc, e *big.Rat) (ratFunc, error) {
	if e.Sign() == 0 {
		return rfConst(ratOne), nil
	}
	if base.isZero() {
		if e.Sign() < 0 {
			return ratFunc{}, fmt.Errorf("%w: division by zero", ErrComputation)
		}
		return rfConst(ratZero), nil
	}

	if e.IsInt() {
		if !e.Num().IsInt64() || abs64(e.Num().Int64()) > maxExponent {
			return ratFunc{}, fmt.Errorf("%w: exponent %s is too large", ErrComputation, e.RatString())
		}
		k := e.Num().Int64()
		if (len(base.num.terms) > 1 || len(base.den.terms) > 1) && abs64(k) > maxExpandExponent {
			return ratFunc{}, fmt.Errorf("%w: exponent %d is too large to expand", ErrComputation, k)
		}
		num, den := powPoly(base.num, int(abs64(k))), powPoly(base.den, int(abs64(k)))
		if k < 0 {
			num, den = den, num
		}
		return nz.reduce(ratFunc{num: num, den: den}), nil
	}

	magnitude := new(big.Rat).Abs(e)
	var num, den poly
	if len(base.num.terms) == 1 && len(base.den.terms) == 1 {
		num = powTerm(base.num.terms[0], magnitude)
		den = powTerm(base.den.terms[0], magnitude)
	} else {
		num = atomPoly(groupAtom(base), magnitude)
		den = constPoly(ratOne)
	}
	if e.Sign() < 0 {
		num, den = den, num
	}
	return nz.reduce(ratFunc{num: num, den: den}), nil
}

func (nz normalizer) call(fn string, arg ratFunc) (ratFunc, error) {
	if c, ok := arg.constant(); ok {
		switch {
		case c.Sign() == 0 && (fn == "sin" || fn == "tan"):
			return rfConst(ratZero), nil
		case c.Sign() == 0 && (fn == "cos" || fn == "exp"):
			return rfConst(ratOne), nil
		case fn == "log" && c.Cmp(ratOne) == 0:
			return rfConst(ratZero), nil
		case fn == "log" && c.Sign() == 0:
			return ratFunc{}, fmt.Errorf("%w: log(0) is undefined", ErrComputation)
		}
	}
	if k, ok := piMultiple(arg); ok && k.IsInt() {
		switch fn {
		case "sin", "tan":
			return rfConst(ratZero), nil
		case "cos":
			if k.Num().Bit(0) == 0 {
				return rfConst(ratOne), nil
			}
			return rfConst(big.NewRat(-1, 1)), nil
		}
	}
	switch fn {
	case "log":
		if isConstAtom(arg, "E") {
			return rfConst(ratOne), nil
		}
		if inner, ok := soleCall(arg, "exp"); ok {
			return inner, nil
		}
	case "exp":
		if inner, ok := soleCall(arg, "log"); ok {
			return inner, nil
		}
	}
	return rfPoly(atomPoly(callAtom(fn, arg), ratOne)), nil
}

// reduce brings r into canonical form.
func (nz normalizer) reduce(r ratFunc) ratFunc {
	if r.num.isZero() {
		return rfConst(ratZero)
	}
	if c, ok := r.den.constant(); ok {
		return rfPoly(scalePoly(r.num, new(big.Rat).Inv(c)))
	}

	terms := make([]term, 0, len(r.num.terms)+len(r.den.terms))
	terms = append(terms, r.num.terms...)
	terms = append(terms, r.den.terms...)
	if mono := commonMonomial(terms); len(mono) > 0 {
		r = ratFunc{num: divideMonomial(r.num, mono), den: divideMonomial(r.den, mono)}
	}

	if nz.cancel {
		if a, ok := soleAtom(r.num, r.den); ok {
			un, _ := toUpoly(r.num, a)
			ud, uok := toUpoly(r.den, a)
			if uok && len(un) > 0 && len(ud) > 0 {
				if g := upolyGCD(un, ud); g.degree() >= 1 {
					qn, _ := upolyDivMod(un, g)
					qd, _ := upolyDivMod(ud, g)
					r = ratFunc{num: fromUpoly(qn, a), den: fromUpoly(qd, a)}
				}
			}
		}
	}

	if c, ok := r.den.constant(); ok {
		return rfPoly(scalePoly(r.num, new(big.Rat).Inv(c)))
	}
	if lc := r.den.terms[0].coef; lc.Cmp(ratOne) != 0 {
		inv := new(big.Rat).Inv(lc)
		r = ratFunc{num: scalePoly(r.num, inv), den: scalePoly(r.den, inv)}
	}
	return r
}

func isConstAtom(r ratFunc, name string) bool {
	if !r.den.isOne() || len(r.num.terms) != 1 {
		return false
	}
	t := r.num.terms[0]
	return t.coef.Cmp(ratOne) == 0 && len(t.powers) == 1 &&
		t.powers[0].base.kind == atomConst && t.powers[0].base.name == name && t.powers[0].exp.Cmp(ratOne) == 0
}

// piMultiple returns k when r is k*pi.
func piMultiple(r ratFunc) (*big.Rat, bool) {
	if !r.den.isOne() || len(r.num.terms) != 1 {
		return nil, false
	}
	t := r.num.terms[0]
	if len(t.powers) != 1 || t.powers[0].base.kind != atomConst || t.powers[0].base.name != "pi" || t.powers[0].exp.Cmp(ratOne) != 0 {
		return nil, false
	}
	return t.coef, true
}

// soleCall returns u when r is exactly fn(u).
func soleCall(r ratFunc, fn string) (ratFunc, bool) {
	if !r.den.isOne() || len(r.num.terms) != 1 {
		return ratFunc{}, false
	}
	t := r.num.terms[0]
	if t.coef.Cmp(ratOne) != 0 || len(t.powers) != 1 {
		return ratFunc{}, false
	}
	p := t.powers[0]
	if p.base.kind != atomCall || p.base.name != fn || p.exp.Cmp(ratOne) != 0 {
		return ratFunc{}, false
	}
	return *p.base.arg, true
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
