package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bdlm/bedlam"
)

func runExportSchema(args []string, out io.Writer) error {
	flags := newFlagSet("export-schema", out)
	var conn connOptions
	conn.register(flags)
	table := flags.String("table", "", "table to export (required)")
	outputDir := flags.String("out-dir", "", "directory to write <table>.json to (defaults to stdout)")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}
	if *table == "" {
		return fmt.Errorf("-table is required")
	}

	ctx := context.Background()
	f, ds, err := conn.open(ctx)
	if err != nil {
		return err
	}
	defer ds.Close(ctx)

	schema, err := f.NewSchema(ds, *table)
	if err != nil {
		return err
	}
	cols, err := schema.Columns(ctx)
	if err != nil {
		return err
	}
	doc, err := schemaDocument(*table, cols)
	if err != nil {
		return err
	}

	if *outputDir == "" {
		_, err = fmt.Fprintln(out, string(doc))
		return err
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(*outputDir, *table+".json")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return fmt.Errorf("write schema file: %w", err)
	}
	fmt.Fprintf(out, "Schema written, output: %s\n", path)
	return nil
}

// schemaDocument renders cols as a JSON schema the file schema source reads
// back to the same columns. Properties keep column order.
func schemaDocument(table string, cols []bedlam.Column) ([]byte, error) {
	props := bedlam.NewObject()
	var pk, required []any
	for _, col := range cols {
		prop := bedlam.NewObject()
		typ, format := jsonType(col.Type)
		if col.Nullable {
			_ = prop.Set("type", []any{typ, "null"})
		} else {
			_ = prop.Set("type", typ)
		}
		if format != "" {
			_ = prop.Set("format", format)
		}
		generated := col.Extra == "auto_increment"
		def, hasDefault := literalDefault(col.DefaultValue())
		if strings.HasPrefix(strings.ToLower(fmt.Sprint(col.DefaultValue())), "nextval(") {
			generated = true
		}
		if generated {
			_ = prop.Set("readOnly", true)
		} else if hasDefault {
			_ = prop.Set("default", def)
		}
		if err := props.Set(col.Name, prop); err != nil {
			return nil, err
		}

		if col.Key == "PRI" {
			pk = append(pk, col.Name)
		}
		if !col.Nullable && !hasDefault && !generated {
			required = append(required, col.Name)
		}
	}

	doc := bedlam.NewObject(
		bedlam.Entry{Key: "$schema", Value: "https://json-schema.org/draft/2020-12/schema"},
		bedlam.Entry{Key: "title", Value: table},
		bedlam.Entry{Key: "type", Value: "object"},
	)
	if len(pk) > 0 {
		_ = doc.Set("x-primary-key", pk)
	}
	_ = doc.Set("properties", props)
	if len(required) > 0 {
		_ = doc.Set("required", required)
	}

	raw, err := doc.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// jsonType maps a lower-cased SQL type to a JSON schema type and format.
func jsonType(sqlType string) (string, string) {
	t := strings.ToLower(sqlType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)
	switch {
	case t == "integer" || t == "int2" || t == "int4" || t == "int8" ||
		strings.HasSuffix(t, "int") || strings.HasSuffix(t, "serial"):
		return "integer", ""
	case t == "numeric" || t == "decimal" || t == "real" || t == "float" ||
		strings.HasPrefix(t, "double") || strings.HasPrefix(t, "float"):
		return "number", ""
	case strings.HasPrefix(t, "bool"):
		return "boolean", ""
	case t == "uuid":
		return "string", "uuid"
	case t == "date":
		return "string", "date"
	case strings.HasPrefix(t, "timestamp") || t == "datetime":
		return "string", "date-time"
	case t == "json" || t == "jsonb":
		return "object", ""
	}
	return "string", ""
}

// literalDefault extracts a constant from a database default expression,
// such as 'active'::text or 0. Function calls are not constants.
func literalDefault(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return v, v != nil
	}
	if i := strings.Index(s, "::"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, false
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'"), true
	case strings.EqualFold(s, "true") || strings.EqualFold(s, "false"):
		return strings.EqualFold(s, "true"), true
	case strings.Contains(s, "("):
		return nil, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return s, true
}
