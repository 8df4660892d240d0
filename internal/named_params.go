package internal

import (
	"fmt"
	"strings"

	"github.com/bdlm/bedlam"
)

// compiledStatement is a statement with :name placeholders rewritten to the
// dialect's positional form. names lists the parameter behind each position;
// a name used twice appears twice.
type compiledStatement struct {
	sql   string
	names []string
}

// compileNamed rewrites :name placeholders. Quoted literals, quoted
// identifiers, comments and :: casts are copied unchanged.
func compileNamed(query string, placeholder func(n int) string) compiledStatement {
	var (
		out   strings.Builder
		names []string
	)
	out.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := skipQuoted(query, i, c)
			out.WriteString(query[i:end])
			i = end - 1
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query) - i
			}
			out.WriteString(query[i : i+end])
			i += end - 1
		case c == ':' && i+1 < len(query) && query[i+1] == ':':
			out.WriteString("::")
			i++
		case c == ':' && i+1 < len(query) && isNameStart(query[i+1]):
			j := i + 1
			for j < len(query) && isNameChar(query[j]) {
				j++
			}
			names = append(names, query[i+1:j])
			out.WriteString(placeholder(len(names)))
			i = j - 1
		default:
			out.WriteByte(c)
		}
	}
	return compiledStatement{sql: out.String(), names: names}
}

// skipQuoted returns the index just past the quoted section starting at
// start. Doubled quote characters are treated as escapes.
func skipQuoted(query string, start int, quote byte) int {
	for j := start + 1; j < len(query); j++ {
		if query[j] != quote {
			continue
		}
		if j+1 < len(query) && query[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(query)
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

// args resolves the positional arguments from the bound parameters.
func (s compiledStatement) args(params map[string]any) ([]any, error) {
	args := make([]any, len(s.names))
	for i, name := range s.names {
		v, ok := params[name]
		if !ok {
			return nil, bedlam.NewQueryError(bedlam.ErrCodeMissingParameter,
				fmt.Sprintf("no value bound for parameter ':%s'", name)).WithField(name)
		}
		args[i] = v
	}
	return args, nil
}

// interpolate renders query with every bound :name replaced by its quoted
// value. Unbound names are left as they are.
func interpolate(query string, params map[string]any, quote func(any) string) string {
	stmt := compileNamed(query, func(n int) string { return fmt.Sprintf("\x00%d\x00", n-1) })
	out := stmt.sql
	for i, name := range stmt.names {
		marker := fmt.Sprintf("\x00%d\x00", i)
		value, ok := params[name]
		replacement := ":" + name
		if ok {
			replacement = quote(value)
		}
		out = strings.Replace(out, marker, replacement, 1)
	}
	return out
}
