// Package extract evaluates jq expressions against decoded probe output
// and coerces the first result to a numeric field value.
package extract

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

// Error reports a field result that cannot be stored as a number.
// Params: expression source text, offending value, and cause.
// Returns: extraction error.
type Error struct {
	Expression string
	Value      any
	Err        error
}

// Error formats extraction failure text.
// Params: none.
// Returns: message with expression and cause.
func (e *Error) Error() string {
	return fmt.Sprintf("extract %q: %v", e.Expression, e.Err)
}

// Unwrap returns the underlying cause.
// Params: none.
// Returns: wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Query is one compiled jq expression, safe for concurrent use.
type Query struct {
	source string
	code   *gojq.Code
}

// Compile parses and compiles a jq expression.
// Params: expression jq source text.
// Returns: compiled query or syntax/compile error.
func Compile(expression string) (*Query, error) {
	source := strings.TrimSpace(expression)
	if source == "" {
		return nil, fmt.Errorf("expression is empty")
	}

	parsed, err := gojq.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse jq %q: %w", source, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compile jq %q: %w", source, err)
	}

	return &Query{source: source, code: code}, nil
}

// String returns the expression source.
// Params: none.
// Returns: jq source text.
func (q *Query) String() string {
	return q.source
}

// Extract evaluates the query and coerces its first result.
// Absent, null, and empty-string results yield 0.
// Params: ctx bounds evaluation; document decoded JSON value.
// Returns: numeric value or *Error.
func (q *Query) Extract(ctx context.Context, document any) (float64, error) {
	iter := q.code.RunWithContext(ctx, document)
	result, ok := iter.Next()
	if !ok {
		return 0, nil
	}
	if err, isErr := result.(error); isErr {
		return 0, &Error{Expression: q.source, Err: err}
	}

	value, err := coerce(result)
	if err != nil {
		return 0, &Error{Expression: q.source, Value: result, Err: err}
	}
	return value, nil
}

// coerce converts one jq result into a finite float64.
// Params: value jq result (nil, bool, int, float64, *big.Int, string, []any, map[string]any).
// Returns: numeric value or coercion error.
func coerce(value any) (float64, error) {
	var number float64
	switch typed := value.(type) {
	case nil:
		return 0, nil
	case float64:
		number = typed
	case int:
		number = float64(typed)
	case *big.Int:
		number, _ = new(big.Float).SetInt(typed).Float64()
	case string:
		text := strings.TrimSpace(typed)
		if text == "" {
			return 0, nil
		}
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, fmt.Errorf("string %q is not numeric", typed)
		}
		number = parsed
	case bool:
		return 0, fmt.Errorf("unsupported value type bool")
	case []any:
		return 0, fmt.Errorf("unsupported value type array")
	case map[string]any:
		return 0, fmt.Errorf("unsupported value type object")
	default:
		return 0, fmt.Errorf("unsupported value type %T", value)
	}

	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, fmt.Errorf("number must be finite")
	}
	return number, nil
}
