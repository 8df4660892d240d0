package bedlam

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// objectState is the interchange form of an Object: is_static, max, min,
// mode, name, type and data, in that order.
type objectState struct {
	IsStatic bool        `json:"is_static"`
	Max      *float64    `json:"max"`
	Min      *float64    `json:"min"`
	Mode     Mode        `json:"mode"`
	Name     *string     `json:"name"`
	Type     *string     `json:"type"`
	Data     orderedData `json:"data"`
}

func (o *Object) state() objectState {
	s := objectState{
		IsStatic: o.static,
		Max:      o.max,
		Min:      o.min,
		Mode:     o.Mode(),
		Data:     orderedData(o.Entries()),
	}
	if o.name != "" {
		name := o.name
		s.Name = &name
	}
	if !o.typ.IsZero() {
		typ := o.typ.String()
		s.Type = &typ
	}
	return s
}

// restore builds an Object from its interchange form through the public
// setters, so every constraint is checked again. The static flag is applied
// last.
func restore(s objectState) (*Object, error) {
	o := &Object{}
	if s.Mode != "" {
		if err := o.SetMode(s.Mode); err != nil {
			return nil, err
		}
	}
	if s.Name != nil && *s.Name != "" {
		if err := o.SetName(*s.Name); err != nil {
			return nil, err
		}
	}
	if s.Max != nil {
		if err := o.SetMax(*s.Max); err != nil {
			return nil, err
		}
	}
	if s.Min != nil {
		if err := o.SetMin(*s.Min); err != nil {
			return nil, err
		}
	}
	if s.Type != nil && *s.Type != "" {
		if err := o.SetTypeName(*s.Type); err != nil {
			return nil, err
		}
	}
	if len(s.Data) > 0 {
		if err := o.SetEntries(s.Data); err != nil {
			return nil, err
		}
	}
	o.static = s.IsStatic
	return o, nil
}

// MarshalJSON encodes the Object in its interchange form.
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.state())
}

// UnmarshalJSON replaces o with the decoded Object. Validation is re-run.
func (o *Object) UnmarshalJSON(data []byte) error {
	var s objectState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode object: %w", err)
	}
	restored, err := restore(s)
	if err != nil {
		return err
	}
	*o = *restored
	return nil
}

// Serialize is shorthand for the JSON interchange encoding.
func (o *Object) Serialize() ([]byte, error) {
	return o.MarshalJSON()
}

// Unserialize decodes an Object from its JSON interchange encoding.
func Unserialize(data []byte) (*Object, error) {
	o := &Object{}
	if err := o.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return o, nil
}

// MarshalBSON encodes the Object in its interchange form as a BSON document.
func (o *Object) MarshalBSON() ([]byte, error) {
	s := o.state()
	data := make(bson.D, 0, len(s.Data))
	for _, e := range s.Data {
		data = append(data, bson.E{Key: e.Key, Value: e.Value})
	}
	return bson.Marshal(bson.D{
		{Key: "is_static", Value: s.IsStatic},
		{Key: "max", Value: s.Max},
		{Key: "min", Value: s.Min},
		{Key: "mode", Value: string(s.Mode)},
		{Key: "name", Value: s.Name},
		{Key: "type", Value: s.Type},
		{Key: "data", Value: data},
	})
}

// UnmarshalBSON replaces o with the decoded Object. Validation is re-run.
func (o *Object) UnmarshalBSON(data []byte) error {
	var raw struct {
		IsStatic bool     `bson:"is_static"`
		Max      *float64 `bson:"max"`
		Min      *float64 `bson:"min"`
		Mode     string   `bson:"mode"`
		Name     *string  `bson:"name"`
		Type     *string  `bson:"type"`
		Data     bson.D   `bson:"data"`
	}
	if err := bson.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode bson object: %w", err)
	}
	s := objectState{
		IsStatic: raw.IsStatic,
		Max:      raw.Max,
		Min:      raw.Min,
		Mode:     Mode(raw.Mode),
		Name:     raw.Name,
		Type:     raw.Type,
	}
	for _, e := range raw.Data {
		s.Data = append(s.Data, Entry{Key: e.Key, Value: fromBSON(e.Value)})
	}
	restored, err := restore(s)
	if err != nil {
		return err
	}
	*o = *restored
	return nil
}

func fromBSON(v any) any {
	switch t := v.(type) {
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = fromBSON(inner)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = fromBSON(inner)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}

// orderedData is the data member of the interchange form. It keeps key order
// through JSON, which a map would not.
type orderedData []Entry

func (d orderedData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encode key %q: %w", e.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *orderedData) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*d = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("object data must be a JSON object")
	}
	var entries []Entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode key %q: %w", key, err)
		}
		entries = append(entries, Entry{Key: key, Value: normalizeNumbers(value)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = entries
	return nil
}

// normalizeNumbers turns json.Number into int64 when integral, float64 otherwise.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeNumbers(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeNumbers(inner)
		}
		return t
	default:
		return v
	}
}
