package internal

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
)

func renderTemplate(tpl *template.Template, data any) (string, error) {
	var builder strings.Builder
	if err := tpl.Execute(&builder, data); err != nil {
		return "", err
	}
	return builder.String(), nil
}

// quoteLiteral renders v as a SQL literal for log and dump output.
func quoteLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(t)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return "'" + t.Format(time.RFC3339Nano) + "'"
	case uuid.UUID:
		return "'" + t.String() + "'"
	case []byte:
		return "'\\x" + hex.EncodeToString(t) + "'"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case fmt.Stringer:
		return quoteLiteral(t.String())
	default:
		return quoteLiteral(fmt.Sprint(t))
	}
}
