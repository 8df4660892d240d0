package bedlam

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type bounds struct {
	min *float64
	max *float64
}

func (b bounds) String() string {
	format := func(p *float64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	}
	return fmt.Sprintf("%s to %s", format(b.min), format(b.max))
}

func (b bounds) check(size float64, describe string) error {
	if (b.max != nil && size > *b.max) || (b.min != nil && size < *b.min) {
		return NewConstraintError(ErrCodeDataSize,
			fmt.Sprintf("data (%s) out of range (%s)", describe, b)).
			WithDetail("size", size)
	}
	return nil
}

// validator is the per-kind validation strategy.
type validator func(t Type, b bounds, value any) error

var validators map[Kind]validator

func init() {
	validators = map[Kind]validator{
		KindArray:      validateArray,
		KindBool:       validateBool,
		KindDate:       validateDate,
		KindFloat:      validateFloat,
		KindFile:       validateFile,
		KindInt:        validateInt,
		KindMBString:   validateMBString,
		KindMixed:      func(Type, bounds, any) error { return nil },
		KindObject:     validateObject,
		KindScalar:     validateScalar,
		KindString:     validateString,
		KindUUID:       validateUUID,
		KindStructural: validateStructural,
	}
}

func (o *Object) validate(value any) error {
	if o.typ.IsZero() {
		return nil
	}
	return validateValue(o.typ, o.bounds(), value)
}

func validateValue(t Type, b bounds, value any) error {
	v, ok := validators[t.Kind]
	if !ok {
		return NewConfigurationError(ErrCodeInvalidType, fmt.Sprintf("invalid type '%s'", t))
	}
	return v(t, b, value)
}

func typeMismatch(code string, value any, expected string) error {
	return NewConstraintError(code,
		fmt.Sprintf("invalid data type '%s', expecting '%s'", typeName(value), expected))
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}
	return reflect.TypeOf(value).String()
}

func validateArray(_ Type, b bounds, value any) error {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
	default:
		return typeMismatch(ErrCodeTypeArray, value, "array")
	}
	size := rv.Len()
	return b.check(float64(size), fmt.Sprintf("%d array elements", size))
}

func validateBool(_ Type, _ bounds, value any) error {
	if _, ok := value.(bool); !ok {
		return typeMismatch(ErrCodeTypeBool, value, "bool")
	}
	return nil
}

// dateLayouts are tried in order for string dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
	"January 2, 2006",
	"2 January 2006",
	"01/02/2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func validateDate(_ Type, b bounds, value any) error {
	var seconds float64
	switch v := value.(type) {
	case time.Time:
		seconds = float64(v.Unix())
	case string:
		if n, ok := toFloat(v); ok {
			seconds = n
			break
		}
		t, ok := parseDate(v)
		if !ok {
			return NewConstraintError(ErrCodeTypeDate, fmt.Sprintf("invalid date string '%s'", v))
		}
		seconds = float64(t.Unix())
	default:
		n, ok := toFloat(value)
		if !ok {
			return NewConstraintError(ErrCodeTypeDate, fmt.Sprintf("invalid date value of type '%s'", typeName(value)))
		}
		seconds = n
	}
	if seconds < 0 {
		return NewConstraintError(ErrCodeTypeDate, fmt.Sprintf("invalid date value, %v seconds", seconds))
	}
	return b.check(seconds, fmt.Sprintf("%v epoch seconds", seconds))
}

func validateFloat(_ Type, b bounds, value any) error {
	n, ok := toFloat(value)
	if !ok {
		return typeMismatch(ErrCodeTypeFloat, value, "float")
	}
	return b.check(n, strconv.FormatFloat(n, 'f', -1, 64))
}

func validateFile(_ Type, b bounds, value any) error {
	path, ok := value.(string)
	if !ok {
		return NewConstraintError(ErrCodeTypeFile,
			fmt.Sprintf("data must be a valid local filesystem path, %s given", typeName(value)))
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return NewConstraintError(ErrCodeTypeFile, fmt.Sprintf("invalid file path '%s', file not found", path))
	}
	return b.check(float64(info.Size()), fmt.Sprintf("%s is %d bytes", path, info.Size()))
}

func validateInt(_ Type, b bounds, value any) error {
	n, ok := toInt(value)
	if !ok {
		return typeMismatch(ErrCodeTypeInt, value, "int")
	}
	return b.check(float64(n), strconv.FormatInt(n, 10))
}

func validateMBString(_ Type, b bounds, value any) error {
	s, ok := value.(string)
	if !ok || !utf8.ValidString(s) {
		return typeMismatch(ErrCodeTypeMBString, value, "mbstring")
	}
	size := utf8.RuneCountInString(s)
	return b.check(float64(size), fmt.Sprintf("%d characters", size))
}

func validateObject(_ Type, _ bounds, value any) error {
	if _, ok := value.(*Object); ok {
		return nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Struct, reflect.Map:
		return nil
	case reflect.Pointer:
		if !rv.IsNil() {
			return nil
		}
	}
	return typeMismatch(ErrCodeTypeObject, value, "object")
}

func validateScalar(_ Type, b bounds, value any) error {
	switch v := value.(type) {
	case bool:
		return nil
	case string:
		return b.check(float64(len(v)), fmt.Sprintf("%d, data type: string", len(v)))
	}
	if n, ok := numericValue(value); ok {
		return b.check(n, fmt.Sprintf("%v, data type: %s", n, typeName(value)))
	}
	return typeMismatch(ErrCodeTypeScalar, value, "scalar")
}

func validateString(_ Type, b bounds, value any) error {
	s, ok := value.(string)
	if !ok {
		return typeMismatch(ErrCodeTypeString, value, "string")
	}
	return b.check(float64(len(s)), fmt.Sprintf("%d characters", len(s)))
}

func validateUUID(_ Type, _ bounds, value any) error {
	switch v := value.(type) {
	case uuid.UUID:
		return nil
	case string:
		if _, err := uuid.Parse(v); err == nil {
			return nil
		}
	}
	return typeMismatch(ErrCodeTypeUUID, value, "uuid")
}

func validateStructural(t Type, _ bounds, value any) error {
	if value == nil || t.impl == nil {
		return NewConstraintError(ErrCodeTypeStructural,
			fmt.Sprintf("invalid data type '%s', must be of type '%s'", typeName(value), t.Name))
	}
	rt := reflect.TypeOf(value)
	matches := rt.AssignableTo(t.impl)
	if !matches && t.impl.Kind() == reflect.Interface {
		matches = rt.Implements(t.impl)
	}
	if !matches {
		return NewConstraintError(ErrCodeTypeStructural,
			fmt.Sprintf("invalid object type '%s', %s required", rt, t.Name))
	}
	return nil
}

// numericValue converts Go numeric kinds (not strings, not bools) to float64.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// toFloat accepts numeric kinds and numeric strings.
func toFloat(value any) (float64, bool) {
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return numericValue(value)
}

// toInt accepts integer kinds, integral floats and strings of digits.
func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return 0, false
		}
		for _, r := range v {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}
