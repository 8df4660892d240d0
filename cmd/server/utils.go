package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bdlm/bedlam"
	"github.com/bdlm/bedlam/internal"
)

// parsePath parses /api/v1/{schema_name} or /api/v1/{schema_name}/{id}
func parsePath(path string) (schemaName string, id string, err error) {
	path = strings.TrimPrefix(path, "/api/v1/")
	path = strings.Trim(path, "/")

	if path == "" {
		return "", "", fmt.Errorf("invalid path: empty schema name")
	}

	parts := strings.Split(path, "/")

	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid path format")
	}
}

// parseIdentity maps a path id onto the primary key columns. Compound keys
// are given comma separated in key order. Numeric parts become numbers.
func parseIdentity(pk []string, raw string) (bedlam.Identity, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != len(pk) {
		return nil, fmt.Errorf("expected %d id values for (%s), got %d", len(pk), strings.Join(pk, ", "), len(parts))
	}
	id := make(bedlam.Identity, len(pk))
	for i, field := range pk {
		v := strings.TrimSpace(parts[i])
		if v == "" {
			return nil, fmt.Errorf("empty value for '%s'", field)
		}
		id[field] = internal.TryParseNumber(v)
	}
	return id, nil
}

// actorHeader carries the id of the acting user for audit columns.
const actorHeader = "X-Actor-ID"

func withActor(r *http.Request) *http.Request {
	v := strings.TrimSpace(r.Header.Get(actorHeader))
	if v == "" {
		return r
	}
	ctx := bedlam.WithActor(r.Context(), bedlam.Actor{ID: internal.TryParseNumber(v)})
	return r.WithContext(ctx)
}

// statusFor maps a bedlam error type to an HTTP status.
func statusFor(err error) int {
	switch bedlam.ErrorTypeOf(err) {
	case bedlam.ErrorTypeNotFound:
		return http.StatusNotFound
	case bedlam.ErrorTypeConstraint:
		return http.StatusUnprocessableEntity
	case bedlam.ErrorTypeIdentity, bedlam.ErrorTypeConfiguration, bedlam.ErrorTypeQuery:
		return http.StatusBadRequest
	case bedlam.ErrorTypeStorage:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// APIResponse is the standard response format
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeBedlamError writes err with the status and code derived from it.
func writeBedlamError(w http.ResponseWriter, err error) error {
	resp := APIResponse{Success: false, Error: err.Error()}
	var be *bedlam.BedlamError
	if errors.As(err, &be) {
		resp.Code = be.Code
	}
	return writeJSON(w, statusFor(err), resp)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return writeJSON(w, statusCode, APIResponse{Success: true, Data: data})
}

// readJSONBody reads and decodes JSON from request body
func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

// plainNumbers turns json.Number values into int64 or float64.
func plainNumbers(m map[string]any) map[string]any {
	for k, v := range m {
		switch t := v.(type) {
		case json.Number:
			m[k] = internal.TryParseNumber(t.String())
		case map[string]any:
			m[k] = plainNumbers(t)
		}
	}
	return m
}
