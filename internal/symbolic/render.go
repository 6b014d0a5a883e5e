package symbolic

import (
	"math/big"
	"sort"
	"strings"
)

// Results are rendered twice: as plain text in the usual programming
// notation (x**2 - 4) and as LaTeX for formula rendering.

var greek = map[string]bool{
	"alpha": true, "beta": true, "gamma": true, "delta": true, "epsilon": true, "theta": true,
	"lambda": true, "mu": true, "sigma": true, "tau": true, "phi": true, "omega": true,
}

type renderer struct {
	latex bool
}

var (
	textRenderer  = renderer{}
	latexRenderer = renderer{latex: true}
)

func (r ratFunc) text() string  { return textRenderer.ratFunc(r) }
func (r ratFunc) latex() string { return latexRenderer.ratFunc(r) }
func (p poly) text() string     { return textRenderer.poly(p) }

func (rd renderer) ratFunc(r ratFunc) string {
	if r.den.isOne() {
		return rd.poly(r.num)
	}
	num, den := rd.poly(r.num), rd.poly(r.den)
	if rd.latex {
		return `\frac{` + num + `}{` + den + `}`
	}
	if len(r.num.terms) > 1 {
		num = "(" + num + ")"
	}
	if len(r.den.terms) > 1 || termParts(r.den.terms[0]) > 1 {
		den = "(" + den + ")"
	}
	return num + "/" + den
}

func termParts(t term) int {
	n := len(t.powers)
	if new(big.Rat).Abs(t.coef).Cmp(ratOne) != 0 {
		n++
	}
	return n
}

func (rd renderer) poly(p poly) string {
	if p.isZero() {
		return "0"
	}
	var b strings.Builder
	for i, t := range p.terms {
		neg := t.coef.Sign() < 0
		switch {
		case i == 0 && neg:
			b.WriteString("-")
		case i > 0 && neg:
			b.WriteString(" - ")
		case i > 0:
			b.WriteString(" + ")
		}
		b.WriteString(rd.term(t))
	}
	return b.String()
}

// term renders the magnitude of t; the caller writes the sign.
func (rd renderer) term(t term) string {
	abs := new(big.Rat).Abs(t.coef)
	var num, den []string
	for _, p := range displayOrder(t.powers) {
		s, inverted := rd.power(p)
		if inverted {
			den = append(den, s)
		} else {
			num = append(num, s)
		}
	}
	if abs.Num().Cmp(big.NewInt(1)) != 0 || len(num) == 0 {
		num = append([]string{abs.Num().String()}, num...)
	}
	if abs.Denom().Cmp(big.NewInt(1)) != 0 {
		den = append([]string{abs.Denom().String()}, den...)
	}

	sep := "*"
	if rd.latex {
		sep = " "
	}
	body := strings.Join(num, sep)
	if len(den) == 0 {
		return body
	}
	if rd.latex {
		return `\frac{` + body + `}{` + strings.Join(den, sep) + `}`
	}
	if len(den) == 1 {
		return body + "/" + den[0]
	}
	return body + "/(" + strings.Join(den, sep) + ")"
}

// power renders |p.exp| applied to the base and reports whether the exponent
// was negative.
func (rd renderer) power(p power) (string, bool) {
	inverted := p.exp.Sign() < 0
	e := new(big.Rat).Abs(p.exp)
	switch {
	case e.Cmp(ratOne) == 0:
		return rd.atom(p.base, false), inverted
	case e.Cmp(ratHalf) == 0:
		inner := rd.atomInner(p.base)
		if rd.latex {
			return `\sqrt{` + inner + `}`, inverted
		}
		return "sqrt(" + inner + ")", inverted
	case e.IsInt():
		if rd.latex {
			return rd.atom(p.base, true) + "^{" + e.Num().String() + "}", inverted
		}
		return rd.atom(p.base, true) + "**" + e.Num().String(), inverted
	default:
		if rd.latex {
			return rd.atom(p.base, true) + `^{\frac{` + e.Num().String() + `}{` + e.Denom().String() + `}}`, inverted
		}
		return rd.atom(p.base, true) + "**(" + e.RatString() + ")", inverted
	}
}

// atomInner renders a base without grouping parentheses.
func (rd renderer) atomInner(a *atom) string {
	if a.kind == atomGroup {
		return rd.ratFunc(*a.arg)
	}
	return rd.atom(a, false)
}

// atom renders a base. raised is set when an exponent follows.
func (rd renderer) atom(a *atom, raised bool) string {
	switch a.kind {
	case atomSym:
		if rd.latex && greek[a.name] {
			return `\` + a.name
		}
		return a.name
	case atomConst:
		if !rd.latex {
			return a.name
		}
		switch a.name {
		case "pi":
			return `\pi`
		case "E":
			return "e"
		default:
			return "i"
		}
	case atomNum:
		return a.num.String()
	case atomCall:
		arg := rd.ratFunc(*a.arg)
		if !rd.latex {
			return a.name + "(" + arg + ")"
		}
		if a.name == "exp" {
			s := "e^{" + arg + "}"
			if raised {
				return `\left(` + s + `\right)`
			}
			return s
		}
		return `\` + a.name + `{\left(` + arg + ` \right)}`
	case atomGroup:
		return rd.group(rd.ratFunc(*a.arg))
	default:
		base := rd.ratFunc(*a.arg)
		if !simpleRatFunc(*a.arg) {
			base = rd.group(base)
		}
		exp := rd.ratFunc(*a.exp)
		var s string
		if rd.latex {
			s = base + "^{" + exp + "}"
		} else {
			if !simpleRatFunc(*a.exp) {
				exp = "(" + exp + ")"
			}
			s = base + "**" + exp
		}
		if raised {
			return rd.group(s)
		}
		return s
	}
}

func (rd renderer) group(s string) string {
	if rd.latex {
		return `\left(` + s + `\right)`
	}
	return "(" + s + ")"
}

// simpleRatFunc reports whether r renders as a single unsigned factor.
func simpleRatFunc(r ratFunc) bool {
	if !r.den.isOne() || len(r.num.terms) != 1 {
		return false
	}
	t := r.num.terms[0]
	if t.coef.Sign() < 0 || !t.coef.IsInt() {
		return false
	}
	return termParts(t) <= 1 && (len(t.powers) == 0 || t.powers[0].exp.Cmp(ratOne) == 0)
}

// displayOrder puts numeric roots and constants before symbols and symbols
// before function calls: sqrt(2)*x, pi*x, x*cos(x).
func displayOrder(powers []power) []power {
	ordered := make([]power, len(powers))
	copy(ordered, powers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return displayRank(ordered[i].base) < displayRank(ordered[j].base)
	})
	return ordered
}

func displayRank(a *atom) int {
	switch a.kind {
	case atomNum:
		return 0
	case atomConst:
		if a.name == "I" {
			return 3
		}
		return 1
	case atomSym:
		return 2
	default:
		return 4
	}
}
