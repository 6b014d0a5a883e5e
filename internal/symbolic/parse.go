package symbolic

import (
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

const (
	maxInputLength = 4096
	maxNesting     = 128
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokEquals
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			dots := 0
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				if runes[i] == '.' {
					dots++
				}
				i++
			}
			text := string(runes[start:i])
			if dots > 1 || text == "." {
				return nil, fmt.Errorf("%w: malformed number %q at position %d", ErrParse, text, start)
			}
			toks = append(toks, token{kind: tokNum, text: text, pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[start:i]), pos: start})
		case r == '*' && i+1 < len(runes) && runes[i+1] == '*':
			toks = append(toks, token{kind: tokOp, text: "**", pos: i})
			i += 2
		case r == '^':
			toks = append(toks, token{kind: tokOp, text: "**", pos: i})
			i++
		case r == '+' || r == '-' || r == '*' || r == '/':
			toks = append(toks, token{kind: tokOp, text: string(r), pos: i})
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '=':
			start := i
			i++
			if i < len(runes) && runes[i] == '=' {
				i++
			}
			toks = append(toks, token{kind: tokEquals, text: "=", pos: start})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at position %d", ErrParse, r, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(runes)}), nil
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

// parseExpression parses a single expression. Equations are rejected.
func parseExpression(input string) (Expr, error) {
	e, eq, err := parseInput(input)
	if err != nil {
		return nil, err
	}
	if eq {
		return nil, fmt.Errorf("%w: equations are only accepted by solve", ErrParse)
	}
	return e, nil
}

// parseInput parses an expression or an equation "lhs = rhs". Equations are
// returned as lhs - rhs.
func parseInput(input string) (Expr, bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, false, fmt.Errorf("%w: empty expression", ErrParse)
	}
	if len(input) > maxInputLength {
		return nil, false, fmt.Errorf("%w: expression longer than %d characters", ErrParse, maxInputLength)
	}
	toks, err := lex(input)
	if err != nil {
		return nil, false, err
	}

	p := &parser{toks: toks}
	lhs, err := p.parseSum()
	if err != nil {
		return nil, false, err
	}
	if p.peek().kind != tokEquals {
		if err := p.expectEOF(); err != nil {
			return nil, false, err
		}
		return lhs, false, nil
	}
	p.next()
	rhs, err := p.parseSum()
	if err != nil {
		return nil, false, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, false, err
	}
	return subtract(lhs, rhs), true, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.kind != tokEOF {
		return unexpected(t)
	}
	return nil
}

func unexpected(t token) error {
	if t.kind == tokEOF {
		return fmt.Errorf("%w: unexpected end of expression", ErrParse)
	}
	return fmt.Errorf("%w: unexpected %q at position %d", ErrParse, t.text, t.pos)
}

func (p *parser) parseSum() (Expr, error) {
	first, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			break
		}
		p.next()
		term, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		if t.text == "-" {
			term = negate(term)
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return addNode{terms: terms}, nil
}

func (p *parser) parseProduct() (Expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	factors := []Expr{first}
	for {
		t := p.peek()
		switch {
		case t.kind == tokOp && (t.text == "*" || t.text == "/"):
			p.next()
			f, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			if t.text == "/" {
				f = powNode{base: f, exp: intNode(-1)}
			}
			factors = append(factors, f)
		case t.kind == tokIdent || t.kind == tokLParen:
			// Juxtaposition: 2x, 3(x + 1), (x - 1)(x + 1)
			f, err := p.parsePower()
			if err != nil {
				return nil, err
			}
			factors = append(factors, f)
		default:
			if len(factors) == 1 {
				return first, nil
			}
			return mulNode{factors: factors}, nil
		}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "-" {
			return negate(operand), nil
		}
		return operand, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokOp && t.text == "**" {
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return powNode{base: base, exp: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		r, ok := new(big.Rat).SetString(t.text)
		if !ok {
			return nil, fmt.Errorf("%w: malformed number %q at position %d", ErrParse, t.text, t.pos)
		}
		return numNode{val: r}, nil
	case tokIdent:
		name := t.text
		if name == "ln" {
			name = "log"
		}
		if functions[name] || name == "sqrt" {
			arg, err := p.parseCallArg(t)
			if err != nil {
				return nil, err
			}
			if name == "sqrt" {
				return powNode{base: arg, exp: numNode{val: big.NewRat(1, 2)}}, nil
			}
			return callNode{fn: name, arg: arg}, nil
		}
		if constants[name] {
			return constNode{name: name}, nil
		}
		if p.peek().kind == tokLParen && len(name) > 1 {
			return nil, fmt.Errorf("%w: unknown function %q at position %d", ErrParse, name, t.pos)
		}
		return symNode{name: name}, nil
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing closing parenthesis for position %d", ErrParse, t.pos)
		}
		return inner, nil
	default:
		return nil, unexpected(t)
	}
}

func (p *parser) parseCallArg(fn token) (Expr, error) {
	if open := p.next(); open.kind != tokLParen {
		return nil, fmt.Errorf("%w: %s must be followed by an argument in parentheses", ErrParse, fn.text)
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	arg, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, fmt.Errorf("%w: missing closing parenthesis for %s at position %d", ErrParse, fn.text, fn.pos)
	}
	return arg, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNesting {
		return fmt.Errorf("%w: expression nested too deeply", ErrParse)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// validIdentifier reports whether name can be used as a variable.
func validIdentifier(name string) bool {
	if name == "" || constants[name] || functions[name] || name == "sqrt" || name == "ln" {
		return false
	}
	for i, r := range name {
		if !(unicode.IsLetter(r) || r == '_' || (i > 0 && unicode.IsDigit(r))) {
			return false
		}
	}
	return true
}
