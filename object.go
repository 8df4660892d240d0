package bedlam

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"sort"
)

// Object is an ordered key/value container with optional value validation and
// mode constraints. The zero value is an empty, untyped list.
//
// An Object is request scoped and not safe for concurrent use.
type Object struct {
	keys   []string
	data   map[string]any
	typ    Type
	min    *float64
	max    *float64
	mode   Mode
	name   string
	static bool
	pos    int
}

// NewObject returns a list-mode Object seeded with entries in order. A repeated
// key keeps its first position and its last value.
func NewObject(entries ...Entry) *Object {
	o := &Object{}
	for _, e := range entries {
		o.put(e.Key, e.Value)
	}
	return o
}

// FromMap returns a list-mode Object seeded from m. Keys are inserted in
// sorted order since map iteration order is undefined.
func FromMap(m map[string]any) *Object {
	o := &Object{}
	for _, k := range sortedKeys(m) {
		o.put(k, m[k])
	}
	return o
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *Object) put(key string, value any) {
	if o.data == nil {
		o.data = make(map[string]any)
	}
	if _, ok := o.data[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.data[key] = value
}

func (o *Object) clear() {
	o.keys = nil
	o.data = make(map[string]any)
	o.pos = 0
}

// Get returns the value stored at key, or nil.
func (o *Object) Get(key string) any {
	return o.data[key]
}

// Lookup returns the value stored at key and whether the key exists.
func (o *Object) Lookup(key string) (any, bool) {
	v, ok := o.data[key]
	return v, ok
}

// Has reports whether key exists, even when its value is nil.
func (o *Object) Has(key string) bool {
	_, ok := o.data[key]
	return ok
}

// Delete removes key. Static containers reject the call, as do fixed
// containers that do not hold key. Deleting an absent key is otherwise a no-op.
func (o *Object) Delete(key string) error {
	if o.static {
		return NewStaticObjectError()
	}
	if !o.Has(key) {
		if o.Mode() == ModeFixed {
			return NewConstraintError(ErrCodeFixedKeyMissing,
				fmt.Sprintf("this is a fixed list and the specified key '%s' does not exist", key)).WithField(key)
		}
		return nil
	}
	delete(o.data, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return nil
}

// Set stores value at key after validating it. Singleton containers drop their
// previous entry first; fixed containers only accept existing keys.
func (o *Object) Set(key string, value any) error {
	if err := o.validate(value); err != nil {
		return err
	}
	if o.static {
		return NewStaticObjectError()
	}
	switch o.Mode() {
	case ModeSingleton:
		o.clear()
	case ModeFixed:
		if !o.Has(key) {
			return NewConstraintError(ErrCodeFixedKeyMissing,
				fmt.Sprintf("this is a fixed list and the specified key '%s' does not exist", key)).WithField(key)
		}
	}
	o.put(key, value)
	return nil
}

// Add appends value to the list stored at key. A scalar already stored at key
// becomes the first element of the list.
func (o *Object) Add(key string, value any) error {
	if err := o.validate(value); err != nil {
		return err
	}
	if o.static {
		return NewStaticObjectError()
	}
	existing, ok := o.data[key]
	switch o.Mode() {
	case ModeSingleton:
		if !ok {
			o.clear()
		}
	case ModeFixed:
		if !ok {
			return NewConstraintError(ErrCodeFixedKeyMissing,
				fmt.Sprintf("this is a fixed list and the specified key '%s' does not exist", key)).WithField(key)
		}
	}

	var list []any
	if ok {
		if l, isList := existing.([]any); isList {
			list = l
		} else {
			list = []any{existing}
		}
	}
	o.put(key, append(list, value))
	return nil
}

// SetData replaces the whole container with m. Keys are inserted in sorted
// order; use SetEntries to control order.
func (o *Object) SetData(m map[string]any) error {
	entries := make([]Entry, 0, len(m))
	for _, k := range sortedKeys(m) {
		entries = append(entries, Entry{Key: k, Value: m[k]})
	}
	return o.SetEntries(entries)
}

// SetEntries replaces the whole container. Either every entry is accepted or
// the container is left unchanged.
func (o *Object) SetEntries(entries []Entry) error {
	if o.static {
		return NewStaticObjectError()
	}
	next := &Object{}
	for _, e := range entries {
		next.put(e.Key, e.Value)
	}

	switch o.Mode() {
	case ModeSingleton:
		if len(next.keys) > 1 {
			return NewConstraintError(ErrCodeSingletonOverrun,
				fmt.Sprintf("too much data for 'singleton' mode (%d elements given)", len(next.keys)))
		}
	case ModeFixed:
		if len(o.keys) > 0 {
			for _, k := range o.keys {
				if !next.Has(k) {
					return NewConstraintError(ErrCodeFixedKeyMismatch,
						fmt.Sprintf("this is a fixed list and an existing key ('%s') is not present in the new list", k)).WithField(k)
				}
			}
			for _, k := range next.keys {
				if !o.Has(k) {
					return NewConstraintError(ErrCodeFixedKeyMismatch,
						fmt.Sprintf("this is a fixed list and a specified key ('%s') does not exist", k)).WithField(k)
				}
			}
		}
	}

	for _, k := range next.keys {
		if err := o.validate(next.data[k]); err != nil {
			return err
		}
	}

	o.keys = next.keys
	o.data = next.data
	o.pos = 0
	return nil
}

// Reset removes every entry.
func (o *Object) Reset() error {
	if o.static {
		return NewStaticObjectError()
	}
	o.clear()
	return nil
}

// Type returns the value restriction, which is zero when unset.
func (o *Object) Type() Type {
	return o.typ
}

// SetType restricts stored values to t. The type can be set once, and only
// when every value already stored satisfies it.
func (o *Object) SetType(t Type) error {
	if !o.typ.IsZero() {
		return NewConfigurationError(ErrCodeTypeAlreadySet, "this object's type property has already been set")
	}
	if t.IsZero() {
		return NewConfigurationError(ErrCodeInvalidType, "'type' must not be empty")
	}
	if t.Kind == KindStructural && t.impl == nil {
		resolved, err := ParseType(t.Name)
		if err != nil {
			return err
		}
		t = resolved
	}
	for _, k := range o.keys {
		if err := validateValue(t, o.bounds(), o.data[k]); err != nil {
			return err
		}
	}
	o.typ = t
	return nil
}

// SetTypeName resolves name with ParseType and applies it with SetType.
func (o *Object) SetTypeName(name string) error {
	if !o.typ.IsZero() {
		return NewConfigurationError(ErrCodeTypeAlreadySet, "this object's type property has already been set")
	}
	t, err := ParseType(name)
	if err != nil {
		return err
	}
	return o.SetType(t)
}

// Min returns the lower bound, if any.
func (o *Object) Min() (float64, bool) {
	if o.min == nil {
		return 0, false
	}
	return *o.min, true
}

// Max returns the upper bound, if any.
func (o *Object) Max() (float64, bool) {
	if o.max == nil {
		return 0, false
	}
	return *o.max, true
}

// SetMin sets the lower bound. It must be finite and not above the upper bound.
func (o *Object) SetMin(min float64) error {
	if math.IsNaN(min) || math.IsInf(min, 0) || (o.max != nil && min > *o.max) {
		return NewConfigurationError(ErrCodeInvalidBound,
			fmt.Sprintf("invalid min value '%v', must be numeric and less than the current max value", min))
	}
	o.min = &min
	return nil
}

// SetMax sets the upper bound. It must be finite and not below the lower bound.
func (o *Object) SetMax(max float64) error {
	if math.IsNaN(max) || math.IsInf(max, 0) || (o.min != nil && max < *o.min) {
		return NewConfigurationError(ErrCodeInvalidBound,
			fmt.Sprintf("invalid max value '%v', must be numeric and greater than the current min value", max))
	}
	o.max = &max
	return nil
}

func (o *Object) bounds() bounds {
	return bounds{min: o.min, max: o.max}
}

// Mode returns the container mode, ModeList by default.
func (o *Object) Mode() Mode {
	if o.mode == "" {
		return ModeList
	}
	return o.mode
}

// SetMode changes the container mode.
func (o *Object) SetMode(mode Mode) error {
	m, err := ParseMode(string(mode))
	if err != nil {
		return err
	}
	o.mode = m
	return nil
}

// Name returns the container name.
func (o *Object) Name() string {
	return o.name
}

// SetName names the container. The name must not be empty.
func (o *Object) SetName(name string) error {
	if name == "" {
		return NewConfigurationError(ErrCodeInvalidName, fmt.Sprintf("invalid name '%s'", name))
	}
	o.name = name
	return nil
}

// IsStatic reports whether the container is read-only.
func (o *Object) IsStatic() bool {
	return o.static
}

// SetStatic toggles the read-only flag.
func (o *Object) SetStatic(static bool) {
	o.static = static
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of entries.
func (o *Object) Len() int {
	return len(o.keys)
}

// IsEmpty reports whether the container holds no entries.
func (o *Object) IsEmpty() bool {
	return len(o.keys) == 0
}

// IsEmptyKey reports whether key is missing, nil or the empty string. false,
// 0 and "0" are not empty.
func (o *Object) IsEmptyKey(key string) bool {
	v, ok := o.data[key]
	if !ok || v == nil {
		return true
	}
	s, isString := v.(string)
	return isString && s == ""
}

// Data returns a shallow copy of the entries as a map.
func (o *Object) Data() map[string]any {
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = o.data[k]
	}
	return out
}

// Entries returns the entries in insertion order.
func (o *Object) Entries() []Entry {
	out := make([]Entry, 0, len(o.keys))
	for _, k := range o.keys {
		out = append(out, Entry{Key: k, Value: o.data[k]})
	}
	return out
}

// Clone returns a copy with the same settings and a shallow copy of the data.
func (o *Object) Clone() *Object {
	c := &Object{
		typ:    o.typ,
		mode:   o.mode,
		name:   o.name,
		static: o.static,
	}
	if o.min != nil {
		v := *o.min
		c.min = &v
	}
	if o.max != nil {
		v := *o.max
		c.max = &v
	}
	for _, k := range o.keys {
		c.put(k, o.data[k])
	}
	return c
}

// ToMap converts the container to plain maps and slices, recursing into nested
// Objects.
func (o *Object) ToMap() map[string]any {
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = plainValue(o.data[k])
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case *Object:
		if t == nil {
			return nil
		}
		return t.ToMap()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = plainValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = plainValue(inner)
		}
		return out
	default:
		return v
	}
}

// ToJSON encodes the data (not the settings) as a JSON object in insertion order.
func (o *Object) ToJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeOrdered(&buf, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeOrdered(buf *bytes.Buffer, o *Object) error {
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if nested, ok := o.data[k].(*Object); ok && nested != nil {
			if err := writeOrdered(buf, nested); err != nil {
				return err
			}
			continue
		}
		val, err := json.Marshal(plainValue(o.data[k]))
		if err != nil {
			return fmt.Errorf("encode key %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return nil
}

// String returns the data as indented JSON.
func (o *Object) String() string {
	raw, err := o.ToJSON()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "    "); err != nil {
		return string(raw)
	}
	return out.String()
}

// All iterates the entries in insertion order. Deleting the current key while
// ranging shifts the remaining keys, so the entry after it is skipped.
func (o *Object) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for i := 0; i < len(o.keys); i++ {
			k := o.keys[i]
			if !yield(k, o.data[k]) {
				return
			}
		}
	}
}

// Rewind moves the cursor to the first entry and returns its value.
func (o *Object) Rewind() (any, bool) {
	o.pos = 0
	return o.Current()
}

// Current returns the value under the cursor.
func (o *Object) Current() (any, bool) {
	if !o.Valid() {
		return nil, false
	}
	return o.data[o.keys[o.pos]], true
}

// Key returns the key under the cursor.
func (o *Object) Key() (string, bool) {
	if !o.Valid() {
		return "", false
	}
	return o.keys[o.pos], true
}

// Next advances the cursor and returns the new current value.
func (o *Object) Next() (any, bool) {
	if o.pos < len(o.keys) {
		o.pos++
	}
	return o.Current()
}

// Prev moves the cursor back and returns the new current value. Moving before
// the first entry invalidates the cursor.
func (o *Object) Prev() (any, bool) {
	if o.pos >= 0 {
		o.pos--
	}
	return o.Current()
}

// End moves the cursor to the last entry and returns its value.
func (o *Object) End() (any, bool) {
	o.pos = len(o.keys) - 1
	return o.Current()
}

// Valid reports whether the cursor points at an entry.
func (o *Object) Valid() bool {
	return o.pos >= 0 && o.pos < len(o.keys)
}
