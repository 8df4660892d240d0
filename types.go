package bedlam

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Mode constrains the shape of an Object's key set.
type Mode string

const (
	// ModeList is an arbitrary list of data.
	ModeList Mode = "list"
	// ModeFixed is a list whose keys are defined up front.
	ModeFixed Mode = "fixed"
	// ModeSingleton holds a single value.
	ModeSingleton Mode = "singleton"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(s)); m {
	case ModeList, ModeFixed, ModeSingleton:
		return m, nil
	}
	return "", NewConfigurationError(ErrCodeInvalidMode,
		fmt.Sprintf("invalid mode '%s', valid values are 'list', 'fixed' and 'singleton'", s))
}

// Kind is the closed set of value kinds an Object can be restricted to.
type Kind string

const (
	KindArray      Kind = "array"
	KindBool       Kind = "bool"
	KindDate       Kind = "date"
	KindFloat      Kind = "float"
	KindFile       Kind = "file"
	KindInt        Kind = "int"
	KindMBString   Kind = "mbstring"
	KindMixed      Kind = "mixed"
	KindObject     Kind = "object"
	KindScalar     Kind = "scalar"
	KindString     Kind = "string"
	KindUUID       Kind = "uuid"
	KindStructural Kind = "structural"
)

var kindAliases = map[string]Kind{
	"array":    KindArray,
	"bool":     KindBool,
	"boolean":  KindBool,
	"date":     KindDate,
	"double":   KindFloat,
	"float":    KindFloat,
	"real":     KindFloat,
	"file":     KindFile,
	"int":      KindInt,
	"integer":  KindInt,
	"long":     KindInt,
	"mbstring": KindMBString,
	"mixed":    KindMixed,
	"object":   KindObject,
	"scalar":   KindScalar,
	"string":   KindString,
	"uuid":     KindUUID,
}

// Type is the value restriction of an Object. Structural types carry the
// reflect.Type a value must be assignable to (or implement, for interfaces).
type Type struct {
	Kind Kind
	Name string
	impl reflect.Type
}

// IsZero reports whether no type restriction is set.
func (t Type) IsZero() bool {
	return t.Kind == ""
}

func (t Type) String() string {
	if t.Kind == KindStructural {
		return t.Name
	}
	return string(t.Kind)
}

// TypeOfKind returns the Type for a primitive kind.
func TypeOfKind(k Kind) Type {
	return Type{Kind: k, Name: string(k)}
}

// TypeFor returns a structural Type for T. For interface types the value must
// implement T; otherwise it must be assignable to T. The type is registered
// under its Go name so serialized containers can be restored.
func TypeFor[T any]() Type {
	rt := reflect.TypeFor[T]()
	t := Type{Kind: KindStructural, Name: rt.String(), impl: rt}
	RegisterType(t.Name, rt)
	return t
}

var (
	typeRegistryMu sync.RWMutex
	typeRegistry   = map[string]reflect.Type{
		"resource": reflect.TypeFor[io.Closer](),
	}
)

// RegisterType makes a structural type resolvable by name.
func RegisterType(name string, rt reflect.Type) {
	typeRegistryMu.Lock()
	defer typeRegistryMu.Unlock()
	typeRegistry[name] = rt
}

// RegisteredTypes lists the names of all resolvable structural types.
func RegisteredTypes() []string {
	typeRegistryMu.RLock()
	defer typeRegistryMu.RUnlock()
	names := make([]string, 0, len(typeRegistry))
	for name := range typeRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseType resolves a type name: a primitive kind, one of its aliases, or a
// registered structural type name.
func ParseType(name string) (Type, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Type{}, NewConfigurationError(ErrCodeInvalidType, "'type' must be a string and must not be empty")
	}
	if k, ok := kindAliases[trimmed]; ok {
		return TypeOfKind(k), nil
	}
	typeRegistryMu.RLock()
	rt, ok := typeRegistry[trimmed]
	typeRegistryMu.RUnlock()
	if !ok {
		return Type{}, NewConfigurationError(ErrCodeUnknownTypeName, fmt.Sprintf("invalid type '%s'", name))
	}
	return Type{Kind: KindStructural, Name: trimmed, impl: rt}, nil
}

// Entry is one key/value pair of an Object, used where order matters.
type Entry struct {
	Key   string
	Value any
}

// Identity maps primary key columns to their values.
type Identity map[string]any

// Clone returns a shallow copy of the identity.
func (id Identity) Clone() Identity {
	if id == nil {
		return nil
	}
	out := make(Identity, len(id))
	for k, v := range id {
		out[k] = v
	}
	return out
}

// Column is the normalized description of one schema column. Metadata keys
// are lower-cased as delivered by the backend.
type Column struct {
	Name     string         `json:"field"`
	Type     string         `json:"type"`
	Nullable bool           `json:"null"`
	Key      string         `json:"key,omitempty"`
	Default  any            `json:"default"`
	Extra    string         `json:"extra,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// DefaultValue returns the declared default, treating a literal NULL as nil
// and trimming string defaults.
func (c Column) DefaultValue() any {
	switch v := c.Default.(type) {
	case nil:
		return nil
	case string:
		if strings.EqualFold(v, "NULL") {
			return nil
		}
		return strings.TrimSpace(v)
	default:
		return v
	}
}

// Actor identifies who is performing a save. It replaces any process-wide
// "current user" and travels in the context.
type Actor struct {
	ID   any
	Name string
}

type actorKey struct{}

// WithActor returns a context carrying the acting user for audit columns.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored in ctx, if any.
func ActorFrom(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
