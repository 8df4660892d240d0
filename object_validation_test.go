package bedlam

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestValidation_ByKind(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "upload.txt")
	require.NoError(t, os.WriteFile(file, []byte("0123456789"), 0o600))

	tests := []struct {
		name    string
		typ     string
		min     *float64
		max     *float64
		value   any
		wantErr string
	}{
		{name: "int", typ: "int", value: 5},
		{name: "int from digits", typ: "integer", value: "12"},
		{name: "int from integral float", typ: "long", value: 2.0},
		{name: "int rejects fraction", typ: "int", value: 2.5, wantErr: ErrCodeTypeInt},
		{name: "int rejects decimal string", typ: "int", value: "1.5", wantErr: ErrCodeTypeInt},
		{name: "int rejects bool", typ: "int", value: true, wantErr: ErrCodeTypeInt},
		{name: "int above max", typ: "int", max: ptr(10), value: 11, wantErr: ErrCodeDataSize},

		{name: "float", typ: "float", value: 1.5},
		{name: "float from string", typ: "double", value: "1.5"},
		{name: "float rejects text", typ: "real", value: "abc", wantErr: ErrCodeTypeFloat},
		{name: "float below min", typ: "float", min: ptr(0), value: -0.1, wantErr: ErrCodeDataSize},

		{name: "string", typ: "string", min: ptr(2), max: ptr(4), value: "abc"},
		{name: "string counts bytes", typ: "string", max: ptr(5), value: "héllo", wantErr: ErrCodeDataSize},
		{name: "string rejects int", typ: "string", value: 1, wantErr: ErrCodeTypeString},
		{name: "mbstring counts runes", typ: "mbstring", max: ptr(5), value: "héllo"},
		{name: "mbstring rejects invalid utf8", typ: "mbstring", value: "\xff", wantErr: ErrCodeTypeMBString},

		{name: "bool", typ: "boolean", value: false},
		{name: "bool rejects string", typ: "bool", value: "true", wantErr: ErrCodeTypeBool},

		{name: "array", typ: "array", value: []int{1, 2}},
		{name: "array map", typ: "array", value: map[string]int{"a": 1}},
		{name: "array too long", typ: "array", max: ptr(1), value: []any{1, 2}, wantErr: ErrCodeDataSize},
		{name: "array rejects scalar", typ: "array", value: "x", wantErr: ErrCodeTypeArray},

		{name: "date string", typ: "date", value: "2024-01-02"},
		{name: "date time", typ: "date", value: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{name: "date epoch", typ: "date", value: int64(1700000000)},
		{name: "date rejects text", typ: "date", value: "not a date", wantErr: ErrCodeTypeDate},
		{name: "date rejects negative", typ: "date", value: -1, wantErr: ErrCodeTypeDate},
		{name: "date after max", typ: "date", max: ptr(1000), value: "2024-01-02", wantErr: ErrCodeDataSize},

		{name: "uuid", typ: "uuid", value: uuid.New()},
		{name: "uuid string", typ: "uuid", value: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{name: "uuid rejects text", typ: "uuid", value: "abc", wantErr: ErrCodeTypeUUID},

		{name: "object map", typ: "object", value: map[string]any{}},
		{name: "object container", typ: "object", value: &Object{}},
		{name: "object struct", typ: "object", value: struct{}{}},
		{name: "object rejects int", typ: "object", value: 5, wantErr: ErrCodeTypeObject},

		{name: "scalar int", typ: "scalar", value: 5},
		{name: "scalar string", typ: "scalar", value: "s"},
		{name: "scalar bool", typ: "scalar", value: true},
		{name: "scalar string length", typ: "scalar", max: ptr(2), value: "abc", wantErr: ErrCodeDataSize},
		{name: "scalar rejects slice", typ: "scalar", value: []int{1}, wantErr: ErrCodeTypeScalar},

		{name: "file", typ: "file", max: ptr(10), value: file},
		{name: "file too large", typ: "file", max: ptr(5), value: file, wantErr: ErrCodeDataSize},
		{name: "file missing", typ: "file", value: filepath.Join(dir, "missing"), wantErr: ErrCodeTypeFile},
		{name: "file rejects directory", typ: "file", value: dir, wantErr: ErrCodeTypeFile},

		{name: "mixed", typ: "mixed", value: []any{nil, 1, "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Object{}
			if tt.max != nil {
				require.NoError(t, o.SetMax(*tt.max))
			}
			if tt.min != nil {
				require.NoError(t, o.SetMin(*tt.min))
			}
			require.NoError(t, o.SetTypeName(tt.typ))

			err := o.Set("value", tt.value)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.True(t, o.Has("value"))
				return
			}
			require.Error(t, err)
			assert.Equal(t, ErrorTypeConstraint, ErrorTypeOf(err))
			assert.Equal(t, tt.wantErr, ErrorCodeOf(err))
			assert.False(t, o.Has("value"))
		})
	}
}

func TestValidation_Structural(t *testing.T) {
	o := &Object{}
	require.NoError(t, o.SetType(TypeFor[io.Reader]()))

	assert.NoError(t, o.Set("reader", strings.NewReader("x")))
	err := o.Set("number", 5)
	assert.Equal(t, ErrCodeTypeStructural, ErrorCodeOf(err))
	err = o.Set("nil", nil)
	assert.Equal(t, ErrCodeTypeStructural, ErrorCodeOf(err))
}

func TestValidation_ResourceAlias(t *testing.T) {
	o := &Object{}
	require.NoError(t, o.SetTypeName("resource"))
	assert.Equal(t, KindStructural, o.Type().Kind)

	f, err := os.CreateTemp(t.TempDir(), "resource")
	require.NoError(t, err)
	defer f.Close()

	assert.NoError(t, o.Set("file", f))
	assert.Error(t, o.Set("text", "not closable"))
}

func TestParseType(t *testing.T) {
	for alias, kind := range map[string]Kind{
		"boolean": KindBool,
		"double":  KindFloat,
		"real":    KindFloat,
		"integer": KindInt,
		"long":    KindInt,
		" uuid ":  KindUUID,
	} {
		typ, err := ParseType(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, kind, typ.Kind, alias)
	}

	_, err := ParseType("")
	assert.Equal(t, ErrCodeInvalidType, ErrorCodeOf(err))
	_, err = ParseType("spaceship")
	assert.Equal(t, ErrCodeUnknownTypeName, ErrorCodeOf(err))

	typ := TypeFor[*Object]()
	assert.Contains(t, RegisteredTypes(), typ.Name)
	parsed, err := ParseType(typ.Name)
	require.NoError(t, err)
	assert.Equal(t, KindStructural, parsed.Kind)
}

func TestColumn_DefaultValue(t *testing.T) {
	assert.Nil(t, Column{}.DefaultValue())
	assert.Nil(t, Column{Default: "NULL"}.DefaultValue())
	assert.Equal(t, "active", Column{Default: " active "}.DefaultValue())
	assert.Equal(t, 0, Column{Default: 0}.DefaultValue())
}
