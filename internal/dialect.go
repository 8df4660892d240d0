package internal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bdlm/bedlam"
)

// Dialect names.
const (
	DialectPostgres = "postgres"
	DialectDuckDB   = "duckdb"
	DialectMySQL    = "mysql"
	DialectOracle   = "oracle"
)

// dialect isolates the SQL differences between backends: placeholders,
// identifier quoting, paging and schema discovery.
type dialect interface {
	Name() string
	Placeholder(n int) string
	QuoteIdentifier(name string) string
	Paginate(query string, start, rows int) string
	// DescribeSQL returns a statement listing the columns of table. It may
	// reference the :table parameter.
	DescribeSQL(table string) string
	SupportsReturning() bool
	// UpdateLimit is appended to single-row UPDATE and DELETE statements.
	UpdateLimit() string
}

func dialectFor(name string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DialectPostgres, "pgx", "pq":
		return postgresDialect{}, nil
	case DialectDuckDB:
		return duckdbDialect{}, nil
	case DialectMySQL:
		return mysqlDialect{}, nil
	case DialectOracle, "oci":
		return oracleDialect{}, nil
	}
	return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidDialect, fmt.Sprintf("unsupported dialect '%s'", name))
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return DialectPostgres }

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) QuoteIdentifier(name string) string { return sanitizeIdentifier(name) }

func (postgresDialect) Paginate(query string, start, rows int) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", strings.TrimRight(query, "; \n\t"), rows, start)
}

func (postgresDialect) DescribeSQL(string) string {
	return `SELECT c.column_name AS field,
       c.data_type AS type,
       c.is_nullable AS "null",
       COALESCE((
           SELECT CASE tc.constraint_type WHEN 'PRIMARY KEY' THEN 'PRI' WHEN 'UNIQUE' THEN 'UNI' ELSE '' END
           FROM information_schema.key_column_usage k
           JOIN information_schema.table_constraints tc
             ON tc.constraint_name = k.constraint_name AND tc.table_schema = k.table_schema
           WHERE k.table_schema = c.table_schema AND k.table_name = c.table_name AND k.column_name = c.column_name
           ORDER BY tc.constraint_type
           LIMIT 1), '') AS key,
       c.column_default AS "default",
       CASE WHEN c.is_identity = 'YES' OR c.column_default LIKE 'nextval(%' THEN 'auto_increment' ELSE '' END AS extra
FROM information_schema.columns c
WHERE c.table_schema = current_schema() AND c.table_name = :table
ORDER BY c.ordinal_position`
}

func (postgresDialect) SupportsReturning() bool { return true }

func (postgresDialect) UpdateLimit() string { return "" }

type duckdbDialect struct{}

func (duckdbDialect) Name() string { return DialectDuckDB }

func (duckdbDialect) Placeholder(int) string { return "?" }

func (duckdbDialect) QuoteIdentifier(name string) string { return sanitizeIdentifier(name) }

func (duckdbDialect) Paginate(query string, start, rows int) string {
	return postgresDialect{}.Paginate(query, start, rows)
}

func (d duckdbDialect) DescribeSQL(table string) string {
	return "DESCRIBE " + d.QuoteIdentifier(table)
}

func (duckdbDialect) SupportsReturning() bool { return true }

func (duckdbDialect) UpdateLimit() string { return "" }

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return DialectMySQL }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = "`" + strings.ReplaceAll(strings.Trim(part, " `"), "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

func (mysqlDialect) Paginate(query string, start, rows int) string {
	return fmt.Sprintf("%s LIMIT %d, %d", strings.TrimRight(query, "; \n\t"), start, rows)
}

func (d mysqlDialect) DescribeSQL(table string) string {
	return "DESCRIBE " + d.QuoteIdentifier(table)
}

func (mysqlDialect) SupportsReturning() bool { return false }

func (mysqlDialect) UpdateLimit() string { return " LIMIT 1" }

type oracleDialect struct{}

func (oracleDialect) Name() string { return DialectOracle }

func (oracleDialect) Placeholder(n int) string { return ":" + strconv.Itoa(n) }

func (oracleDialect) QuoteIdentifier(name string) string { return sanitizeIdentifier(strings.ToUpper(name)) }

// Paginate wraps query in a ROWNUM window.
func (oracleDialect) Paginate(query string, start, rows int) string {
	return fmt.Sprintf(
		"SELECT * FROM (SELECT bedlam_page.*, ROWNUM bedlam_rownum FROM (%s) bedlam_page WHERE ROWNUM <= %d) WHERE bedlam_rownum > %d",
		strings.TrimRight(query, "; \n\t"), start+rows, start)
}

func (oracleDialect) DescribeSQL(string) string {
	return `SELECT column_name AS field, data_type AS type, nullable AS "null", data_default AS "default"
FROM user_tab_columns
WHERE table_name = UPPER(:table)
ORDER BY column_id`
}

func (oracleDialect) SupportsReturning() bool { return false }

func (oracleDialect) UpdateLimit() string { return " AND ROWNUM = 1" }

// isSelect reports whether query reads rows rather than modifying them.
func isSelect(query string) bool {
	head := strings.ToUpper(firstWord(query))
	return head == "SELECT" || head == "WITH"
}

// returnsRows reports whether the driver must be asked for a row set.
func returnsRows(query string) bool {
	switch strings.ToUpper(firstWord(query)) {
	case "SELECT", "WITH", "DESCRIBE", "SHOW", "PRAGMA", "VALUES", "EXPLAIN":
		return true
	}
	return returningClause.MatchString(query)
}

var returningClause = regexp.MustCompile(`(?i)\bRETURNING\b`)

func firstWord(query string) string {
	trimmed := strings.TrimLeft(query, " \t\r\n(")
	end := strings.IndexAny(trimmed, " \t\r\n(")
	if end < 0 {
		return trimmed
	}
	return trimmed[:end]
}
