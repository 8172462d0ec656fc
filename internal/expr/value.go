package expr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Value is a sealed interface over the runtime value types the evaluator
// understands. Only Null, String, Bool, Int, and Decimal implement it.
// Floats from JSON are carried as Decimal so threshold comparisons keep
// exact precision.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents an absent or SQL-null value. Comparisons against Null
// propagate Null (non-match), they never raise.
type Null struct{}

func (Null) value() {}

// String represents a string value.
type String string

func (String) value() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// Int represents an integer value. Always int64.
type Int int64

func (Int) value() {}

// Decimal represents an arbitrary precision decimal value.
type Decimal struct {
	Dec *apd.Decimal
}

func (Decimal) value() {}

// NewDecimal parses a decimal literal. The input must be a valid decimal
// string such as "0.5" or "1e18".
func NewDecimal(s string) (Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return Decimal{Dec: d}, nil
}

// MustDecimal is like NewDecimal but panics on error. Use in tests only.
func MustDecimal(s string) Decimal {
	d, err := NewDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsNull reports whether v is the Null value.
func IsNull(v Value) bool {
	_, ok := v.(Null)
	return ok
}

// FromGo converts a JSON-decoded Go value into a Value. Numbers decoded
// with json.Decoder.UseNumber become Int when integral, Decimal otherwise.
// Plain float64 (from decoders without UseNumber) always becomes Decimal.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case json.Number:
		s := string(val)
		if !strings.ContainsAny(s, ".eE") {
			n, err := val.Int64()
			if err == nil {
				return Int(n), nil
			}
			// Out of int64 range, fall through to decimal.
		}
		return NewDecimal(s)
	case float64:
		d := new(apd.Decimal)
		if _, err := d.SetFloat64(val); err != nil {
			return nil, fmt.Errorf("convert float %v: %w", val, err)
		}
		return Decimal{Dec: d}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// ToGo converts a Value back into a plain Go value suitable for JSON
// encoding. Decimals render as json.Number so precision survives.
func ToGo(v Value) any {
	switch val := v.(type) {
	case Null:
		return nil
	case String:
		return string(val)
	case Bool:
		return bool(val)
	case Int:
		return int64(val)
	case Decimal:
		return json.Number(val.Dec.Text('f'))
	default:
		return nil
	}
}

// compareNumeric compares two numeric values, promoting Int to Decimal when
// either side is Decimal. The second return is false when either side is not
// numeric.
func compareNumeric(a, b Value) (int, bool) {
	ad, aok := toDecimal(a)
	bd, bok := toDecimal(b)
	if !aok || !bok {
		return 0, false
	}
	return ad.Cmp(bd), true
}

// toDecimal widens Int or Decimal to *apd.Decimal.
func toDecimal(v Value) (*apd.Decimal, bool) {
	switch val := v.(type) {
	case Int:
		return apd.New(int64(val), 0), true
	case Decimal:
		return val.Dec, true
	default:
		return nil, false
	}
}
