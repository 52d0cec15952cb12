package probe

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MathDetails is the structured outcome of one local calculation, the
// deterministic stand-in for a real calculator service behind the
// calculate_math tool.
type MathDetails struct {
	OperationType string `json:"operation_type"`
	Expression    string `json:"expression"`
	Result        string `json:"result,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CalculateMath executes a calculate_math tool call locally.
func CalculateMath(operationType, expression string) MathDetails {
	details := MathDetails{
		OperationType: operationType,
		Expression:    expression,
	}
	var result string
	var err error
	switch operationType {
	case "basic", "complex":
		result, err = evalExpression(expression)
	case "equation":
		result, err = solveLinearEquation(expression)
	case "derivative":
		result, err = differentiatePolynomial(expression)
	case "probability":
		result, err = solveProbability(expression)
	default:
		err = fmt.Errorf("unsupported operation type: %s", operationType)
	}
	if err != nil {
		details.Error = err.Error()
		return details
	}
	details.Result = result
	return details
}

// evalExpression evaluates an arithmetic expression supporting + - * /
// ^, parentheses, the constants pi and e, and the functions sin, cos,
// tan, log (base 10), ln and sqrt. Unicode math symbols from chat
// prompts (× ÷ √ π and subscript log₁₀) are normalized first.
func evalExpression(expression string) (string, error) {
	p := &exprParser{input: normalizeExpression(expression)}
	value, err := p.parseSum()
	if err != nil {
		return "", err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return "", fmt.Errorf("unexpected input at %q", p.input[p.pos:])
	}
	return formatNumber(value), nil
}

func normalizeExpression(expression string) string {
	replacer := strings.NewReplacer(
		"×", "*",
		"÷", "/",
		"√", "sqrt",
		"π", "pi",
		"log₁₀", "log",
	)
	return replacer.Replace(expression)
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) parseSum() (float64, error) {
	value, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return value, nil
		}
		switch p.input[p.pos] {
		case '+':
			p.pos++
			rhs, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			value += rhs
		case '-':
			p.pos++
			rhs, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			value -= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	value, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return value, nil
		}
		switch p.input[p.pos] {
		case '*':
			p.pos++
			rhs, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			value *= rhs
		case '/':
			p.pos++
			rhs, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, errors.New("division by zero")
			}
			value /= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '^' {
		p.pos++
		exponent, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exponent), nil
	}
	return base, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '-' {
		p.pos++
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}
	return p.parseAtom()
}

func (p *exprParser) parseAtom() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, errors.New("unexpected end of expression")
	}
	ch := p.input[p.pos]
	if ch == '(' {
		p.pos++
		value, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	}
	if ch >= '0' && ch <= '9' || ch == '.' {
		return p.parseNumber()
	}
	if isAlpha(ch) {
		return p.parseIdentifier()
	}
	return 0, fmt.Errorf("unexpected character %q", string(ch))
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return value, nil
}

func (p *exprParser) parseIdentifier() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && isAlpha(p.input[p.pos]) {
		p.pos++
	}
	name := p.input[start:p.pos]
	switch name {
	case "pi":
		return math.Pi, nil
	case "e":
		return math.E, nil
	}
	fn, ok := mathFunctions[name]
	if !ok {
		return 0, fmt.Errorf("unknown identifier %q", name)
	}
	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != '(' {
		return 0, fmt.Errorf("function %s requires parentheses", name)
	}
	p.pos++
	arg, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != ')' {
		return 0, errors.New("missing closing parenthesis")
	}
	p.pos++
	return fn(arg), nil
}

var mathFunctions = map[string]func(float64) float64{
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
	"log":  math.Log10,
	"ln":   math.Log,
	"sqrt": math.Sqrt,
}

func isAlpha(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
}

var equationTermRe = regexp.MustCompile(`([+-]?\s*\d*\.?\d*)\s*\*?\s*x|([+-]?\s*\d+\.?\d*)`)

// solveLinearEquation solves a single-variable linear equation of the
// form ax + b = c and returns "x = <solution>".
func solveLinearEquation(expression string) (string, error) {
	parts := strings.SplitN(expression, "=", 2)
	if len(parts) != 2 {
		return "", errors.New("equation must contain exactly one '='")
	}
	aLeft, cLeft, err := parseLinearSide(parts[0])
	if err != nil {
		return "", err
	}
	aRight, cRight, err := parseLinearSide(parts[1])
	if err != nil {
		return "", err
	}
	coefficient := aLeft - aRight
	if coefficient == 0 {
		return "", errors.New("no x term in equation")
	}
	solution := (cRight - cLeft) / coefficient
	return "x = " + formatNumber(solution), nil
}

func parseLinearSide(side string) (coefficient, constant float64, err error) {
	matches := equationTermRe.FindAllStringSubmatch(strings.TrimSpace(side), -1)
	if len(matches) == 0 {
		return 0, 0, fmt.Errorf("no terms in %q", side)
	}
	for _, match := range matches {
		if strings.Contains(match[0], "x") {
			xCoef := strings.ReplaceAll(match[1], " ", "")
			switch xCoef {
			case "", "+":
				coefficient++
			case "-":
				coefficient--
			default:
				value, parseErr := strconv.ParseFloat(xCoef, 64)
				if parseErr != nil {
					return 0, 0, fmt.Errorf("invalid coefficient %q", xCoef)
				}
				coefficient += value
			}
			continue
		}
		if match[2] != "" {
			value, parseErr := strconv.ParseFloat(strings.ReplaceAll(match[2], " ", ""), 64)
			if parseErr != nil {
				return 0, 0, fmt.Errorf("invalid constant %q", match[2])
			}
			constant += value
		}
	}
	return coefficient, constant, nil
}

var polynomialTermRe = regexp.MustCompile(`([+-]?\s*\d*\.?\d*)\s*\*?\s*x(?:\^(\d+))?|([+-]?\s*\d+\.?\d*)`)

// differentiatePolynomial differentiates a polynomial in x. A leading
// "d/dx(...)" wrapper from chat prompts is stripped first.
func differentiatePolynomial(expression string) (string, error) {
	inner := strings.TrimSpace(expression)
	if strings.HasPrefix(inner, "d/dx(") && strings.HasSuffix(inner, ")") {
		inner = inner[len("d/dx(") : len(inner)-1]
	}
	matches := polynomialTermRe.FindAllStringSubmatch(inner, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no polynomial terms in %q", expression)
	}

	type term struct {
		coefficient float64
		power       int
	}
	var derived []term
	for _, match := range matches {
		if !strings.Contains(match[0], "x") {
			continue // constant term vanishes
		}
		coefRaw := strings.ReplaceAll(match[1], " ", "")
		coefficient := 1.0
		switch coefRaw {
		case "", "+":
		case "-":
			coefficient = -1
		default:
			value, err := strconv.ParseFloat(coefRaw, 64)
			if err != nil {
				return "", fmt.Errorf("invalid coefficient %q", coefRaw)
			}
			coefficient = value
		}
		power := 1
		if match[2] != "" {
			value, err := strconv.Atoi(match[2])
			if err != nil {
				return "", fmt.Errorf("invalid power %q", match[2])
			}
			power = value
		}
		derived = append(derived, term{coefficient: coefficient * float64(power), power: power - 1})
	}
	if len(derived) == 0 {
		return "0", nil
	}

	var b strings.Builder
	for i, t := range derived {
		coefficient := t.coefficient
		if i == 0 {
			if coefficient < 0 {
				b.WriteString("-")
				coefficient = -coefficient
			}
		} else {
			if coefficient < 0 {
				b.WriteString(" - ")
				coefficient = -coefficient
			} else {
				b.WriteString(" + ")
			}
		}
		switch {
		case t.power == 0:
			b.WriteString(formatNumber(coefficient))
		case t.power == 1:
			if coefficient != 1 {
				b.WriteString(formatNumber(coefficient))
			}
			b.WriteString("x")
		default:
			if coefficient != 1 {
				b.WriteString(formatNumber(coefficient))
			}
			b.WriteString("x^" + strconv.Itoa(t.power))
		}
	}
	return b.String(), nil
}

// solveProbability covers the fixed scenarios the probe offers; anything
// else is unsupported rather than guessed.
func solveProbability(expression string) (string, error) {
	lowered := strings.ToLower(expression)
	if strings.Contains(lowered, "dice") && strings.Contains(lowered, "7") {
		return "6/36", nil
	}
	if strings.Contains(lowered, "coin") && strings.Contains(lowered, "heads") {
		return "1/2", nil
	}
	return "", errors.New("unsupported probability scenario")
}

func formatNumber(value float64) string {
	rounded := math.Round(value*100) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
