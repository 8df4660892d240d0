package internal

import (
	"fmt"
	"strings"
	"text/template"
)

// recordTemplates hold every statement a Record or Composite issues. Column
// and table names go through ident, values through param, which emits a
// :name placeholder for the datasource to bind.
var recordTemplates = template.Must(template.New("record").Funcs(template.FuncMap{
	"ident":   func(s string) string { return s },
	"param":   func(s string) string { return s },
	"literal": func(v any) string { return "" },
}).Parse(`
{{- define "where" -}}
{{- range $i, $c := .Keys}}{{if $i}} AND {{end}}{{ident $c}} = {{param $c}}{{end -}}
{{- end -}}

{{- define "select" -}}
SELECT {{range $i, $c := .Columns}}{{if $i}}, {{end}}{{ident $c}}{{end}} FROM {{ident .Table}} WHERE {{template "where" .}}
{{- end -}}

{{- define "insert" -}}
{{- if .Columns -}}
INSERT INTO {{ident .Table}} ({{range $i, $c := .Columns}}{{if $i}}, {{end}}{{ident $c}}{{end}}) VALUES ({{range $i, $c := .Columns}}{{if $i}}, {{end}}{{param $c}}{{end}})
{{- else -}}
INSERT INTO {{ident .Table}} DEFAULT VALUES
{{- end -}}
{{- if .Returning}} RETURNING {{range $i, $c := .Keys}}{{if $i}}, {{end}}{{ident $c}}{{end}}{{end -}}
{{- end -}}

{{- define "update" -}}
UPDATE {{ident .Table}} SET {{range $i, $c := .Columns}}{{if $i}}, {{end}}{{ident $c}} = {{param $c}}{{end}} WHERE {{template "where" .}}{{.Limit}}
{{- end -}}

{{- define "delete" -}}
DELETE FROM {{ident .Table}} WHERE {{template "where" .}}{{.Limit}}
{{- end -}}

{{- define "children" -}}
SELECT {{ident .Select}} FROM {{ident .Table}} WHERE {{template "where" .}}
{{- end -}}

{{- define "dump" -}}
INSERT INTO {{ident .Table}} ({{range $i, $c := .Columns}}{{if $i}}, {{end}}{{ident $c}}{{end}}) VALUES ({{range $i, $v := .Values}}{{if $i}}, {{end}}{{literal $v}}{{end}});
{{- end -}}
`))

// statementData is the input of every record template.
type statementData struct {
	Table     string
	Columns   []string
	Keys      []string
	Values    []any
	Select    string
	Returning bool
	Limit     string
}

// renderStatement executes the named template with identifier quoting bound
// to d.
func renderStatement(d dialect, name string, data statementData) (string, error) {
	tpl, err := recordTemplates.Clone()
	if err != nil {
		return "", fmt.Errorf("clone template: %w", err)
	}
	tpl.Funcs(template.FuncMap{
		"ident":   d.QuoteIdentifier,
		"param":   func(col string) string { return ":" + paramName(col) },
		"literal": quoteLiteral,
	})
	named := tpl.Lookup(name)
	if named == nil {
		return "", fmt.Errorf("unknown statement template %q", name)
	}
	return renderTemplate(named, data)
}

// paramName turns a column name into a valid placeholder name.
func paramName(col string) string {
	var b strings.Builder
	for i := 0; i < len(col); i++ {
		c := col[i]
		if isNameChar(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || !isNameStart(name[0]) {
		name = "p_" + name
	}
	return name
}
