// Package symbolic performs exact computer algebra for the tutor: simplifying,
// expanding and factoring expressions, solving polynomial equations, and
// differentiating and integrating. Every computation is pure and
// deterministic, so identical requests always give identical results.
package symbolic

import (
	"fmt"
	"strings"
)

// Operation is one of the supported computations.
type Operation int

const (
	OpSimplify Operation = iota
	OpSolve
	OpDerivative
	OpIntegral
	OpExpand
	OpFactor
	opCount
)

var operationNames = [opCount]string{
	OpSimplify:   "simplify",
	OpSolve:      "solve",
	OpDerivative: "derivative",
	OpIntegral:   "integral",
	OpExpand:     "expand",
	OpFactor:     "factor",
}

func (o Operation) String() string {
	if o < 0 || o >= opCount {
		return fmt.Sprintf("Operation(%d)", int(o))
	}
	return operationNames[o]
}

// Operations lists every supported operation.
func Operations() []Operation {
	ops := make([]Operation, opCount)
	for i := range ops {
		ops[i] = Operation(i)
	}
	return ops
}

// ParseOperation resolves an operation by name, ignoring case.
func ParseOperation(name string) (Operation, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range operationNames {
		if n == name {
			return Operation(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedOperation, name, strings.Join(operationNames[:], ", "))
}

// Request describes one computation.
type Request struct {
	Operation  Operation
	Expression string
	Variable   string // Optional; detected when the expression has one symbol
	Order      int    // Derivative order, default 1
	Lower      string // Bounds of a definite integral; both or neither
	Upper      string
}

// Result carries the answer as plain text and as LaTeX.
type Result struct {
	Operation      Operation
	Input          string
	Variable       string
	Text           string
	LaTeX          string
	Solutions      []string // solve only
	SolutionsLaTeX []string
	Order          int  // derivative only
	Definite       bool // integral only
}

// Format renders the result as a block for display to a student.
func (r Result) Format() string {
	var b strings.Builder
	b.WriteString("=== Mathematical Computation ===\n")
	fmt.Fprintf(&b, "Operation: %s\n", r.Operation)
	fmt.Fprintf(&b, "Input: %s\n", r.Input)
	switch r.Operation {
	case OpSolve:
		fmt.Fprintf(&b, "Variable: %s\n", r.Variable)
		if len(r.Solutions) == 0 {
			b.WriteString("Solutions: none\n")
		} else {
			fmt.Fprintf(&b, "Solutions: %s\n", strings.Join(r.Solutions, ", "))
		}
	case OpDerivative:
		fmt.Fprintf(&b, "Derivative: %s\n", r.Text)
	case OpIntegral:
		kind := "indefinite"
		if r.Definite {
			kind = "definite"
		}
		fmt.Fprintf(&b, "Integral (%s): %s\n", kind, r.Text)
	default:
		fmt.Fprintf(&b, "Result: %s\n", r.Text)
	}
	return b.String()
}

type handler func(req Request) (Result, error)

var handlers = [opCount]handler{
	OpSimplify:   computeSimplify,
	OpSolve:      computeSolve,
	OpDerivative: computeDerivative,
	OpIntegral:   computeIntegral,
	OpExpand:     computeExpand,
	OpFactor:     computeFactor,
}

// Compute runs a computation. Failures wrap ErrParse, ErrUnsupportedOperation,
// ErrAmbiguousVariable or ErrComputation.
func Compute(req Request) (Result, error) {
	if req.Operation < 0 || req.Operation >= opCount {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedOperation, req.Operation)
	}
	req.Expression = strings.TrimSpace(req.Expression)
	req.Variable = strings.TrimSpace(req.Variable)
	if req.Variable != "" && !validIdentifier(req.Variable) {
		return Result{}, fmt.Errorf("%w: %q is not a valid variable name", ErrParse, req.Variable)
	}
	return handlers[req.Operation](req)
}

// resolveVariable picks the variable to work in. Without an explicit choice
// the only free symbol is used; fallback applies when there is none.
func resolveVariable(e Expr, requested, fallback string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	symbols := freeSymbols(e)
	switch len(symbols) {
	case 1:
		return symbols[0], nil
	case 0:
		if fallback == "" {
			return "", fmt.Errorf("%w: the expression has no variable", ErrComputation)
		}
		return fallback, nil
	default:
		return "", fmt.Errorf("%w: the expression has free symbols %s; specify the variable",
			ErrAmbiguousVariable, strings.Join(symbols, ", "))
	}
}

func newResult(req Request, r ratFunc) Result {
	return Result{
		Operation: req.Operation,
		Input:     req.Expression,
		Variable:  req.Variable,
		Text:      r.text(),
		LaTeX:     r.latex(),
	}
}

func computeSimplify(req Request) (Result, error) {
	e, err := parseExpression(req.Expression)
	if err != nil {
		return Result{}, err
	}
	r, err := normalizer{cancel: true}.norm(e)
	if err != nil {
		return Result{}, err
	}
	return newResult(req, r), nil
}

func computeExpand(req Request) (Result, error) {
	e, err := parseExpression(req.Expression)
	if err != nil {
		return Result{}, err
	}
	r, err := normalizer{}.norm(e)
	if err != nil {
		return Result{}, err
	}
	return newResult(req, r), nil
}

func computeFactor(req Request) (Result, error) {
	e, err := parseExpression(req.Expression)
	if err != nil {
		return Result{}, err
	}
	r, err := normalizer{cancel: true}.norm(e)
	if err != nil {
		return Result{}, err
	}
	f := factorRatFunc(r)
	res := newResult(req, r)
	res.Text, res.LaTeX = f.text(), f.latex()
	return res, nil
}

func computeSolve(req Request) (Result, error) {
	e, _, err := parseInput(req.Expression)
	if err != nil {
		return Result{}, err
	}
	v, err := resolveVariable(e, req.Variable, "")
	if err != nil {
		return Result{}, err
	}
	roots, err := normalizer{cancel: true}.solve(e, v)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Operation:      req.Operation,
		Input:          req.Expression,
		Variable:       v,
		Solutions:      make([]string, len(roots)),
		SolutionsLaTeX: make([]string, len(roots)),
	}
	for i, root := range roots {
		res.Solutions[i] = root.text()
		res.SolutionsLaTeX[i] = root.latex()
	}
	res.Text = "[" + strings.Join(res.Solutions, ", ") + "]"
	res.LaTeX = `\left[` + strings.Join(res.SolutionsLaTeX, ", ") + `\right]`
	return res, nil
}

func computeDerivative(req Request) (Result, error) {
	order := req.Order
	if order == 0 {
		order = 1
	}
	if order < 0 || order > maxDerivativeOrder {
		return Result{}, fmt.Errorf("%w: derivative order must be between 1 and %d", ErrComputation, maxDerivativeOrder)
	}

	e, err := parseExpression(req.Expression)
	if err != nil {
		return Result{}, err
	}
	v, err := resolveVariable(e, req.Variable, "x")
	if err != nil {
		return Result{}, err
	}
	nz := normalizer{cancel: true}
	r, err := nz.norm(e)
	if err != nil {
		return Result{}, err
	}
	d, err := nz.derivative(r, v, order)
	if err != nil {
		return Result{}, err
	}

	res := newResult(req, d)
	res.Variable = v
	res.Order = order
	return res, nil
}

func computeIntegral(req Request) (Result, error) {
	lower, upper := strings.TrimSpace(req.Lower), strings.TrimSpace(req.Upper)
	if (lower == "") != (upper == "") {
		return Result{}, fmt.Errorf("%w: a definite integral needs both bounds", ErrParse)
	}

	e, err := parseExpression(req.Expression)
	if err != nil {
		return Result{}, err
	}
	v, err := resolveVariable(e, req.Variable, "x")
	if err != nil {
		return Result{}, err
	}
	nz := normalizer{cancel: true}
	r, err := nz.norm(e)
	if err != nil {
		return Result{}, err
	}
	anti, err := nz.integrate(r, v)
	if err != nil {
		return Result{}, err
	}

	var value ratFunc
	if lower == "" {
		if value, err = nz.norm(anti); err != nil {
			return Result{}, err
		}
	} else {
		lo, err := parseExpression(lower)
		if err != nil {
			return Result{}, fmt.Errorf("lower bound: %w", err)
		}
		hi, err := parseExpression(upper)
		if err != nil {
			return Result{}, fmt.Errorf("upper bound: %w", err)
		}
		if value, err = nz.norm(subtract(substitute(anti, v, hi), substitute(anti, v, lo))); err != nil {
			return Result{}, err
		}
	}

	res := newResult(req, value)
	res.Variable = v
	res.Definite = lower != ""
	return res, nil
}
