package preview

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Param is an externally-tagged typed query parameter. Exactly one field
// is set; the wire form is {"String": ...}, {"Int64": ...}, {"Bool": ...},
// {"Decimal": ...} or {"Timestamp": epoch_millis}. The coercion rules are
// fixed - they must match exactly what the remote query service expects.
type Param struct {
	String    *string
	Int64     *int64
	Bool      *bool
	Decimal   *string // decimal text, e.g. "0.5"
	Timestamp *int64  // epoch milliseconds
}

// MarshalJSON emits the externally-tagged form with exactly one variant.
func (p Param) MarshalJSON() ([]byte, error) {
	switch {
	case p.String != nil:
		return json.Marshal(map[string]string{"String": *p.String})
	case p.Int64 != nil:
		return json.Marshal(map[string]int64{"Int64": *p.Int64})
	case p.Bool != nil:
		return json.Marshal(map[string]bool{"Bool": *p.Bool})
	case p.Decimal != nil:
		return json.Marshal(map[string]string{"Decimal": *p.Decimal})
	case p.Timestamp != nil:
		return json.Marshal(map[string]int64{"Timestamp": *p.Timestamp})
	default:
		return nil, fmt.Errorf("empty query parameter")
	}
}

// UnmarshalJSON accepts the externally-tagged form.
func (p *Param) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("query parameter wants exactly one tag, got %d", len(raw))
	}
	for tag, val := range raw {
		switch tag {
		case "String":
			p.String = new(string)
			return json.Unmarshal(val, p.String)
		case "Int64":
			p.Int64 = new(int64)
			return json.Unmarshal(val, p.Int64)
		case "Bool":
			p.Bool = new(bool)
			return json.Unmarshal(val, p.Bool)
		case "Decimal":
			p.Decimal = new(string)
			return json.Unmarshal(val, p.Decimal)
		case "Timestamp":
			p.Timestamp = new(int64)
			return json.Unmarshal(val, p.Timestamp)
		default:
			return fmt.Errorf("unknown query parameter tag %q", tag)
		}
	}
	return nil
}

// Arg converts the parameter to a database/sql driver argument.
func (p Param) Arg() (any, error) {
	switch {
	case p.String != nil:
		return *p.String, nil
	case p.Int64 != nil:
		return *p.Int64, nil
	case p.Bool != nil:
		return *p.Bool, nil
	case p.Decimal != nil:
		return *p.Decimal, nil
	case p.Timestamp != nil:
		return *p.Timestamp, nil
	default:
		return nil, fmt.Errorf("empty query parameter")
	}
}

// coerceParam converts a context value into a Param of the declared
// catalog type. List values are JSON-encoded into a String parameter;
// query SQL unpacks them with the engine's JSON table function.
func coerceParam(typ string, v any) (Param, error) {
	switch typ {
	case "string":
		s, err := coerceString(v)
		if err != nil {
			return Param{}, err
		}
		return Param{String: &s}, nil

	case "string_list":
		data, err := json.Marshal(v)
		if err != nil {
			return Param{}, fmt.Errorf("encode list parameter: %w", err)
		}
		s := string(data)
		return Param{String: &s}, nil

	case "int64":
		n, err := coerceInt64(v)
		if err != nil {
			return Param{}, err
		}
		return Param{Int64: &n}, nil

	case "bool":
		b, ok := v.(bool)
		if !ok {
			return Param{}, fmt.Errorf("want bool, got %T", v)
		}
		return Param{Bool: &b}, nil

	case "decimal":
		s, err := coerceDecimal(v)
		if err != nil {
			return Param{}, err
		}
		return Param{Decimal: &s}, nil

	case "timestamp":
		ms, err := coerceTimestamp(v)
		if err != nil {
			return Param{}, err
		}
		return Param{Timestamp: &ms}, nil

	default:
		return Param{}, fmt.Errorf("unknown parameter type %q", typ)
	}
}

func coerceString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return string(val), nil
	default:
		return "", fmt.Errorf("want string, got %T", v)
	}
}

func coerceInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case json.Number:
		return val.Int64()
	case float64:
		return int64(val), nil
	default:
		return 0, fmt.Errorf("want int64, got %T", v)
	}
}

func coerceDecimal(v any) (string, error) {
	var text string
	switch val := v.(type) {
	case string:
		text = val
	case json.Number:
		text = string(val)
	case int64:
		return strconv.FormatInt(val, 10), nil
	case int:
		return strconv.Itoa(val), nil
	case float64:
		text = strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return "", fmt.Errorf("want decimal, got %T", v)
	}
	if _, _, err := apd.NewFromString(text); err != nil {
		return "", fmt.Errorf("invalid decimal %q: %w", text, err)
	}
	return text, nil
}

func coerceTimestamp(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case json.Number:
		return val.Int64()
	case time.Time:
		return val.UnixMilli(), nil
	default:
		return 0, fmt.Errorf("want timestamp, got %T", v)
	}
}
