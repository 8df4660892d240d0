package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bdlm/bedlam"
	"go.uber.org/zap"
)

// apiHandler routes /api/v1/{schema_name}[/{id}] by method.
func (s *Server) apiHandler(w http.ResponseWriter, r *http.Request) {
	schemaName, id, err := parsePath(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err))
		return
	}

	// The datasource holds a single transaction, so requests take turns.
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.ds.Rollback(context.WithoutCancel(r.Context()))

	r = withActor(r)
	switch {
	case id == "" && r.Method == http.MethodGet:
		s.handleDescribe(w, r, schemaName)
	case id == "" && r.Method == http.MethodPost:
		s.handleCreate(w, r, schemaName)
	case id != "" && r.Method == http.MethodGet:
		s.handleGet(w, r, schemaName, id)
	case id != "" && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		s.handleUpdate(w, r, schemaName, id)
	case id != "" && r.Method == http.MethodDelete:
		s.handleDelete(w, r, schemaName, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleDescribe handles GET /api/v1/{schema_name}
func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request, schemaName string) {
	schema, err := s.factory.NewSchema(s.ds, schemaName)
	if err != nil {
		writeBedlamError(w, err)
		return
	}
	cols, err := schema.Columns(r.Context())
	if err != nil {
		writeBedlamError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, cols)
}

// loadRecord builds the record of schemaName and loads the row at id.
func (s *Server) loadRecord(ctx context.Context, schemaName, id string) (bedlam.Record, error) {
	rec, err := s.factory.NewRecord(ctx, s.ds, schemaName)
	if err != nil {
		return nil, err
	}
	identity, err := parseIdentity(rec.PK(), id)
	if err != nil {
		return nil, bedlam.NewIdentityError(bedlam.ErrCodeIdentityPartial, err.Error()).WithSchema(schemaName)
	}
	if err := rec.SetID(identity); err != nil {
		return nil, err
	}
	if err := rec.Load(ctx, false); err != nil {
		return nil, err
	}
	return rec, nil
}

// applyBody sets every field of the JSON object body on rec.
func applyBody(r *http.Request, rec bedlam.Record) error {
	var body map[string]any
	if err := readJSONBody(r, &body); err != nil {
		return bedlam.NewConfigurationError(bedlam.ErrCodeInvalidType, fmt.Sprintf("invalid json body: %v", err))
	}
	obj := bedlam.FromMap(plainNumbers(body))
	for field, value := range obj.All() {
		if err := rec.Set(field, value); err != nil {
			return err
		}
	}
	return nil
}

// handleCreate handles POST /api/v1/{schema_name}
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, schemaName string) {
	rec, err := s.factory.NewRecord(r.Context(), s.ds, schemaName)
	if err != nil {
		writeBedlamError(w, err)
		return
	}
	if err := applyBody(r, rec); err != nil {
		writeBedlamError(w, err)
		return
	}
	if _, err := rec.Save(r.Context(), true); err != nil {
		zap.S().Warnw("create failed", "schema", schemaName, "err", err)
		writeBedlamError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, recordBody(rec))
}

// handleGet handles GET /api/v1/{schema_name}/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, schemaName, id string) {
	rec, err := s.loadRecord(r.Context(), schemaName, id)
	if err != nil {
		writeBedlamError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "sql" {
		w.Header().Set("Content-Type", "application/sql")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, rec.Dump())
		return
	}
	writeSuccess(w, http.StatusOK, recordBody(rec))
}

// handleUpdate handles PUT /api/v1/{schema_name}/{id}
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, schemaName, id string) {
	rec, err := s.loadRecord(r.Context(), schemaName, id)
	if err != nil {
		writeBedlamError(w, err)
		return
	}
	if err := applyBody(r, rec); err != nil {
		writeBedlamError(w, err)
		return
	}
	if _, err := rec.Save(r.Context(), false); err != nil {
		zap.S().Warnw("update failed", "schema", schemaName, "id", id, "err", err)
		writeBedlamError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, recordBody(rec))
}

// handleDelete handles DELETE /api/v1/{schema_name}/{id}[?hard=true]
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, schemaName, id string) {
	rec, err := s.loadRecord(r.Context(), schemaName, id)
	if err != nil {
		writeBedlamError(w, err)
		return
	}
	hard := strings.EqualFold(r.URL.Query().Get("hard"), "true")
	if err := rec.DeleteRecord(r.Context(), hard); err != nil {
		writeBedlamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleState handles GET, PUT and DELETE /state/v1/{key}
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	key := strings.Trim(strings.TrimPrefix(r.URL.Path, "/state/v1/"), "/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, http.StatusBadRequest, "invalid state key")
		return
	}

	switch r.Method {
	case http.MethodGet:
		obj, err := s.state.Get(r.Context(), key)
		if err != nil {
			writeBedlamError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, obj.ToMap())
	case http.MethodPut:
		var body map[string]any
		if err := readJSONBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
			return
		}
		obj := bedlam.FromMap(plainNumbers(body))
		_ = obj.SetName(key)
		if err := s.state.Put(r.Context(), key, obj); err != nil {
			writeBedlamError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.state.Delete(r.Context(), key); err != nil {
			writeBedlamError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// recordBody is the JSON shape of a record.
func recordBody(rec bedlam.Record) map[string]any {
	return map[string]any{
		"schema_name": rec.Schema().Name(),
		"id":          map[string]any(rec.ID()),
		"data":        rec.Data().ToMap(),
	}
}
