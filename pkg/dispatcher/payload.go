package dispatcher

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/flowforge/automation/pkg/model"
)

var validate = validator.New()

// Payload is a read-only view over loosely typed event JSON.
// Paths are dotted, e.g. "email.id".
type Payload map[string]interface{}

func (p Payload) lookup(path string) (interface{}, bool) {
	var current interface{} = map[string]interface{}(p)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case model.JSONB:
		return m, true
	case Payload:
		return m, true
	}
	return nil, false
}

// Has reports whether the key exists, even with a null value.
func (p Payload) Has(path string) bool {
	_, ok := p.lookup(path)
	return ok
}

// IsSet reports whether the key exists with a non-null value.
func (p Payload) IsSet(path string) bool {
	v, ok := p.lookup(path)
	return ok && v != nil
}

func (p Payload) Raw(path string) interface{} {
	v, _ := p.lookup(path)
	return v
}

func (p Payload) String(path string) string {
	v, _ := p.lookup(path)
	return stringify(v)
}

func (p Payload) Int64(path string) (int64, bool) {
	v, ok := p.lookup(path)
	if !ok || v == nil {
		return 0, false
	}
	return toInt64(v)
}

// ID is Int64 restricted to positive values.
func (p Payload) ID(path string) (int64, bool) {
	id, ok := p.Int64(path)
	return id, ok && id > 0
}

func (p Payload) Float(path string) (float64, bool) {
	v, ok := p.lookup(path)
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func (p Payload) Bool(path string) bool {
	v, _ := p.lookup(path)
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "on", "true", "yes":
			return true
		}
	}
	return false
}

func (p Payload) Map(path string) Payload {
	v, _ := p.lookup(path)
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	return Payload(m)
}

func (p Payload) Slice(path string) []interface{} {
	v, _ := p.lookup(path)
	s, _ := v.([]interface{})
	return s
}

// Decode copies the value at path into a struct and validates it.
// An empty path decodes the whole payload.
func (p Payload) Decode(path string, into interface{}) error {
	var src interface{} = map[string]interface{}(p)
	if path != "" {
		v, ok := p.lookup(path)
		if !ok {
			return malformed("missing %s", path)
		}
		src = v
	}
	data, err := json.Marshal(src)
	if err != nil {
		return malformed("encode %s: %v", path, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return malformed("decode %s: %v", path, err)
	}
	if err := validate.Struct(into); err != nil {
		return malformed("%v", err)
	}
	return nil
}

// FlexInt accepts JSON numbers and numeric strings.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*f = 0
		return nil
	}
	n, ok := toInt64(v)
	if !ok {
		return fmt.Errorf("not an integer: %s", data)
	}
	*f = FlexInt(n)
	return nil
}

// FlexBool accepts true/false, 0/1 and their string forms.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexBool(Payload{"v": v}.Bool("v"))
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), t == float64(int64(t))
	case int:
		return int64(t), true
	case int64:
		return t, true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if ferr != nil || f != float64(int64(f)) {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	}
	return 0, false
}

// castInt converts loosely typed input to an integer the way form values
// are coerced: nil, empty and non-numeric input are 0, and numeric strings
// keep their leading integer part ("12abc" is 12, "0.9" is 0).
func castInt(v interface{}) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return leadingInt(t)
	case json.Number:
		return leadingInt(t.String())
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return int64(t)
	}
	if n, ok := toInt64(v); ok {
		return n
	}
	return 0
}

func leadingInt(s string) int64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	// out of range input saturates
	n, _ := strconv.ParseInt(s[:end], 10, 64)
	return n
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case map[string]interface{}, []interface{}, model.JSONB:
		data, _ := json.Marshal(t)
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

var trimmedEmailKeys = []string{"emailHTML", "thumbnail", "thumbnailPath"}

// Trim drops bulky email content from a payload before it is logged.
func Trim(data model.JSONB) model.JSONB {
	if data == nil {
		return nil
	}
	email, ok := asMap(data["email"])
	if !ok {
		return data
	}
	out := make(model.JSONB, len(data))
	for k, v := range data {
		out[k] = v
	}
	trimmed := make(map[string]interface{}, len(email))
	for k, v := range email {
		trimmed[k] = v
	}
	for _, k := range trimmedEmailKeys {
		delete(trimmed, k)
	}
	out["email"] = trimmed
	return out
}
