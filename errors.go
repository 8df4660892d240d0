package bedlam

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeConstraint    ErrorType = "constraint"
	ErrorTypeIdentity      ErrorType = "identity"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeQuery         ErrorType = "query"
	ErrorTypeInternal      ErrorType = "internal"
)

// ErrNoRows is returned by Query.Next once the result set is exhausted.
var ErrNoRows = errors.New("bedlam: no more rows")

// BedlamError is the error type returned by containers, schemas, records and
// datasources.
type BedlamError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Schema  string         `json:"schema,omitempty"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *BedlamError) Error() string {
	if e.Schema != "" && e.Field != "" {
		return fmt.Sprintf("[%s:%s] %s.%s: %s", e.Type, e.Code, e.Schema, e.Field, e.Message)
	}
	if e.Schema != "" {
		return fmt.Sprintf("[%s:%s] schema %s: %s", e.Type, e.Code, e.Schema, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *BedlamError) Unwrap() error {
	return e.Cause
}

// Is matches another *BedlamError by type and code so callers can compare
// against the exported sentinel-style constructors.
func (e *BedlamError) Is(target error) bool {
	var t *BedlamError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Code == e.Code
}

// WithDetails adds details to a BedlamError
func (e *BedlamError) WithDetails(details map[string]any) *BedlamError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to a BedlamError
func (e *BedlamError) WithDetail(key string, value any) *BedlamError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to a BedlamError
func (e *BedlamError) WithCause(cause error) *BedlamError {
	e.Cause = cause
	return e
}

// WithSchema adds schema context to a BedlamError
func (e *BedlamError) WithSchema(schema string) *BedlamError {
	e.Schema = schema
	return e
}

// WithField adds field context to a BedlamError
func (e *BedlamError) WithField(field string) *BedlamError {
	e.Field = field
	return e
}

// Error codes
const (
	// Configuration errors
	ErrCodeTypeAlreadySet  = "TYPE_ALREADY_SET"
	ErrCodeInvalidType     = "INVALID_TYPE"
	ErrCodeInvalidMode     = "INVALID_MODE"
	ErrCodeInvalidName     = "INVALID_NAME"
	ErrCodeInvalidBound    = "INVALID_BOUND"
	ErrCodeInvalidDriver   = "INVALID_DRIVER"
	ErrCodeInvalidDialect  = "INVALID_DIALECT"
	ErrCodeInvalidTable    = "INVALID_TABLE_NAME"
	ErrCodeUnknownTypeName = "UNKNOWN_TYPE_NAME"

	// Constraint violations
	ErrCodeStaticObject     = "STATIC_OBJECT"
	ErrCodeFixedKeyMissing  = "FIXED_KEY_MISSING"
	ErrCodeFixedKeyMismatch = "FIXED_KEY_MISMATCH"
	ErrCodeSingletonOverrun = "SINGLETON_OVERRUN"
	ErrCodeKeyNotFound      = "KEY_NOT_FOUND"
	ErrCodeDataSize         = "INVALID_DATA_SIZE"
	ErrCodeTypeArray        = "INVALID_TYPE_ARRAY"
	ErrCodeTypeBool         = "INVALID_TYPE_BOOLEAN"
	ErrCodeTypeDate         = "INVALID_TYPE_DATE"
	ErrCodeTypeFloat        = "INVALID_TYPE_DOUBLE"
	ErrCodeTypeFile         = "INVALID_TYPE_FILE"
	ErrCodeTypeInt          = "INVALID_TYPE_INTEGER"
	ErrCodeTypeMBString     = "INVALID_TYPE_MBSTRING"
	ErrCodeTypeObject       = "INVALID_TYPE_OBJECT"
	ErrCodeTypeScalar       = "INVALID_TYPE_SCALAR"
	ErrCodeTypeString       = "INVALID_TYPE_STRING"
	ErrCodeTypeUUID         = "INVALID_TYPE_UUID"
	ErrCodeTypeStructural   = "INVALID_TYPE_CLASS"
	ErrCodeSchemaImmutable  = "SCHEMA_IMMUTABLE"
	ErrCodeFieldNotInSchema = "FIELD_NOT_IN_SCHEMA"
	ErrCodeSchemaViolation  = "SCHEMA_VIOLATION"
	ErrCodeSchemaNotLoaded  = "SCHEMA_NOT_LOADED"

	// Identity errors
	ErrCodeIdentityMissing = "IDENTITY_MISSING"
	ErrCodeIdentityPartial = "IDENTITY_PARTIAL"

	// Storage and query errors
	ErrCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrCodeNoConnection      = "NO_CONNECTION"
	ErrCodeQueryExecution    = "QUERY_EXECUTION_ERROR"
	ErrCodeQueryExecuted     = "QUERY_ALREADY_EXECUTED"
	ErrCodeQueryNotSelect    = "QUERY_NOT_SELECT"
	ErrCodeQueryBuildFailed  = "QUERY_BUILD_FAILED"
	ErrCodeMissingParameter  = "MISSING_PARAMETER"
	ErrCodeTransactionFailed = "TRANSACTION_FAILED"
	ErrCodeRecordNotFound    = "RECORD_NOT_FOUND"
	ErrCodeStateNotFound     = "STATE_NOT_FOUND"
	ErrCodeSchemaNotFound    = "SCHEMA_NOT_FOUND"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// ============================================================================
// BedlamError Constructors
// ============================================================================

// NewBedlamError creates a new BedlamError
func NewBedlamError(errorType ErrorType, code, message string) *BedlamError {
	return &BedlamError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewConfigurationError reports an invalid setter argument (type, mode, name, bound).
func NewConfigurationError(code, message string) *BedlamError {
	return NewBedlamError(ErrorTypeConfiguration, code, message)
}

// NewConstraintError reports a rejected mutation. The container is unchanged.
func NewConstraintError(code, message string) *BedlamError {
	return NewBedlamError(ErrorTypeConstraint, code, message)
}

// NewStaticObjectError is returned by every mutation of a static container.
func NewStaticObjectError() *BedlamError {
	return NewConstraintError(ErrCodeStaticObject, "static objects cannot be modified")
}

// NewFieldNotInSchemaError reports a record access to an unknown column.
func NewFieldNotInSchemaError(schema, field string) *BedlamError {
	return NewConstraintError(ErrCodeFieldNotInSchema,
		fmt.Sprintf("the field '%s' does not exist in the schema '%s'", field, schema)).
		WithSchema(schema).
		WithField(field)
}

// NewSchemaImmutableError is returned by Schema.Set and Schema.SetData.
func NewSchemaImmutableError(schema string) *BedlamError {
	return NewConstraintError(ErrCodeSchemaImmutable, "a schema cannot be modified").WithSchema(schema)
}

// NewIdentityError reports a missing or partial primary key identity.
func NewIdentityError(code, message string) *BedlamError {
	return NewBedlamError(ErrorTypeIdentity, code, message)
}

// NewStorageError wraps an I/O failure from a datasource.
func NewStorageError(code, message string, cause error) *BedlamError {
	return &BedlamError{
		Type:    ErrorTypeStorage,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewQueryError reports a misuse of the query API, such as paging an executed query.
func NewQueryError(code, message string) *BedlamError {
	return NewBedlamError(ErrorTypeQuery, code, message)
}

// NewRecordNotFoundError reports a load that matched no row.
func NewRecordNotFoundError(schema string, id Identity) *BedlamError {
	return NewBedlamError(ErrorTypeNotFound, ErrCodeRecordNotFound, "record not found").
		WithSchema(schema).
		WithDetail("id", map[string]any(id))
}

// NewSchemaNotFoundError creates a schema not found error
func NewSchemaNotFoundError(schemaName string) *BedlamError {
	return NewBedlamError(ErrorTypeNotFound, ErrCodeSchemaNotFound, "schema not found").WithSchema(schemaName)
}

// NewStateNotFoundError reports a StateStore key that holds no object.
func NewStateNotFoundError(key string) *BedlamError {
	return NewBedlamError(ErrorTypeNotFound, ErrCodeStateNotFound, "state not found").WithDetail("key", key)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *BedlamError {
	return &BedlamError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// ErrorTypeOf returns the ErrorType of the first *BedlamError in err's chain,
// or the empty string.
func ErrorTypeOf(err error) ErrorType {
	var be *BedlamError
	if errors.As(err, &be) {
		return be.Type
	}
	return ""
}

// ErrorCodeOf returns the Code of the first *BedlamError in err's chain.
func ErrorCodeOf(err error) string {
	var be *BedlamError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsNotFound reports whether err is a not_found BedlamError.
func IsNotFound(err error) bool {
	return ErrorTypeOf(err) == ErrorTypeNotFound
}
