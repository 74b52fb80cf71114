package capability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

type CalculateResult struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

// Calculate evaluates arithmetic so totals (kg x price) are never guessed.
type Calculate struct{}

func NewCalculate() *Calculate { return &Calculate{} }

func (Calculate) Info() contractx.CapabilityInfo {
	return contractx.CapabilityInfo{
		Name:        NameCalculate,
		Description: "Evaluate an arithmetic expression with + - * / % ^ and parentheses. Use it for totals such as quantidade_kg * preco_por_kg.",
		Kind:        contractx.KindRead,
		Fields: []contractx.FieldSpec{
			{Name: "expression", Type: contractx.FieldString, Required: true, Description: "Expression to evaluate, e.g. 12,5 * 30"},
		},
	}
}

func (Calculate) Invoke(_ context.Context, inv Invocation) contractx.CapabilityResult {
	expr := stringArg(inv.Args(), "expression")
	v, err := Evaluate(expr)
	if err != nil {
		return contractx.Failed(inv.Request, fmt.Errorf("%w: %v", contractx.ErrInvalidArguments, err))
	}
	return contractx.Succeeded(inv.Request, CalculateResult{Expression: expr, Result: v})
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	num  float64
	op   byte
	pos  int
}

var errEmptyExpression = errors.New("expression is empty")

// Evaluate computes an arithmetic expression. Decimal commas are accepted; x and × mean multiply.
func Evaluate(expr string) (float64, error) {
	toks, err := lex(expr)
	if err != nil {
		return 0, err
	}
	if len(toks) == 0 {
		return 0, errEmptyExpression
	}
	e := &evaluator{toks: toks}
	v, err := e.binary(0)
	if err != nil {
		return 0, err
	}
	if e.i < len(e.toks) {
		return 0, fmt.Errorf("unexpected token at position %d", e.toks[e.i].pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.New("result is not a finite number")
	}
	return v, nil
}

func lex(expr string) ([]token, error) {
	expr = strings.ReplaceAll(expr, "×", "*")
	out := make([]token, 0, len(expr)/2)
	for i := 0; i < len(expr); {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t':
			i++
		case ch >= '0' && ch <= '9' || ch == '.' || ch == ',':
			start := i
			for i < len(expr) && (expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.' || expr[i] == ',') {
				i++
			}
			raw := strings.ReplaceAll(expr[start:i], ",", ".")
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", expr[start:i], start)
			}
			out = append(out, token{kind: tokNumber, num: n, pos: start})
		case strings.IndexByte("+-*/%^", ch) >= 0:
			out = append(out, token{kind: tokOp, op: ch, pos: i})
			i++
		case ch == 'x' || ch == 'X':
			out = append(out, token{kind: tokOp, op: '*', pos: i})
			i++
		case ch == '(':
			out = append(out, token{kind: tokLParen, pos: i})
			i++
		case ch == ')':
			out = append(out, token{kind: tokRParen, pos: i})
			i++
		default:
			return nil, fmt.Errorf("invalid character %q at position %d", ch, i)
		}
	}
	return out, nil
}

type evaluator struct {
	toks []token
	i    int
}

func precedence(op byte) (prec int, rightAssoc bool) {
	switch op {
	case '+', '-':
		return 1, false
	case '*', '/', '%':
		return 2, false
	case '^':
		return 3, true
	}
	return -1, false
}

// binary is precedence climbing over the token stream.
func (e *evaluator) binary(minPrec int) (float64, error) {
	lhs, err := e.unary()
	if err != nil {
		return 0, err
	}
	for e.i < len(e.toks) {
		t := e.toks[e.i]
		if t.kind != tokOp {
			break
		}
		prec, right := precedence(t.op)
		if prec < minPrec {
			break
		}
		e.i++
		next := prec + 1
		if right {
			next = prec
		}
		rhs, err := e.binary(next)
		if err != nil {
			return 0, err
		}
		if lhs, err = apply(t, lhs, rhs); err != nil {
			return 0, err
		}
	}
	return lhs, nil
}

func (e *evaluator) unary() (float64, error) {
	if e.i >= len(e.toks) {
		return 0, errors.New("unexpected end of expression")
	}
	t := e.toks[e.i]
	switch t.kind {
	case tokOp:
		if t.op != '-' && t.op != '+' {
			return 0, fmt.Errorf("unexpected operator %q at position %d", t.op, t.pos)
		}
		e.i++
		v, err := e.unary()
		if t.op == '-' {
			v = -v
		}
		return v, err
	case tokNumber:
		e.i++
		return t.num, nil
	case tokLParen:
		e.i++
		v, err := e.binary(0)
		if err != nil {
			return 0, err
		}
		if e.i >= len(e.toks) || e.toks[e.i].kind != tokRParen {
			return 0, fmt.Errorf("missing closing parenthesis for position %d", t.pos)
		}
		e.i++
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected ')' at position %d", t.pos)
	}
}

func apply(t token, a, b float64) (float64, error) {
	switch t.op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		if b == 0 {
			return 0, fmt.Errorf("division by zero at position %d", t.pos)
		}
		return a / b, nil
	case '%':
		if b == 0 {
			return 0, fmt.Errorf("modulo by zero at position %d", t.pos)
		}
		return math.Mod(a, b), nil
	case '^':
		return math.Pow(a, b), nil
	}
	return 0, fmt.Errorf("unknown operator %q", t.op)
}
