// Package httpapi exposes the document service as a JSON CRUD API.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/docsync/pkg/core"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 4 << 20

// SchemaStore serves raw schema files.
type SchemaStore interface {
	Raw(id string) ([]byte, string, error)
}

// Config configures the handler.
type Config struct {
	Logger *slog.Logger
	// CORSOrigin is sent as Access-Control-Allow-Origin. Empty disables CORS headers.
	CORSOrigin string
	// Schemas enables GET /schemas/{id} when set.
	Schemas SchemaStore
	// Live is mounted at /ws when set.
	Live         http.Handler
	MaxBodyBytes int64
}

type handler struct {
	svc    *core.Service
	cfg    Config
	logger *slog.Logger
}

// NewHandler builds the HTTP surface of svc.
func NewHandler(svc *core.Service, cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &handler{svc: svc, cfg: cfg, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /documents", h.namespaces)
	mux.HandleFunc("GET /documents/{ns}", h.list)
	mux.HandleFunc("GET /documents/{ns}/{name}", h.get)
	mux.HandleFunc("POST /documents/{ns}/{name}", h.create)
	mux.HandleFunc("PUT /documents/{ns}/{name}", h.update)
	mux.HandleFunc("DELETE /documents/{ns}/{name}", h.remove)
	if cfg.Schemas != nil {
		mux.HandleFunc("GET /schemas/{id}", h.schema)
	}
	if cfg.Live != nil {
		mux.Handle("GET /ws", cfg.Live)
	}

	return h.withCORS(mux)
}

func (h *handler) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.CORSOrigin != "" {
			header := w.Header()
			header.Set("Access-Control-Allow-Origin", h.cfg.CORSOrigin)
			header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *handler) namespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := h.svc.Namespaces(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": namespaces})
}

type fileEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("ns")
	names, err := h.svc.List(r.Context(), ns)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	files := make([]fileEntry, 0, len(names))
	for _, name := range names {
		files = append(files, fileEntry{
			Name: strings.TrimSuffix(name, filepath.Ext(name)),
			Path: path.Join(ns, name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	ns, name := r.PathValue("ns"), r.PathValue("name")

	if expr := r.URL.Query().Get("path"); expr != "" {
		results, err := h.svc.Query(r.Context(), ns, name, expr)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": results})
		return
	}

	doc, err := h.svc.Get(r.Context(), ns, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": doc.Data})
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readData(w, r)
	if !ok {
		return
	}
	if err := h.svc.Create(r.Context(), r.PathValue("ns"), r.PathValue("name"), raw); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "File created successfully"})
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readData(w, r)
	if !ok {
		return
	}
	if err := h.svc.Update(r.Context(), r.PathValue("ns"), r.PathValue("name"), raw); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "File updated successfully"})
}

// remove answers 200 for a document that does not exist: removal is
// idempotent and a second DELETE is not an error.
func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), r.PathValue("ns"), r.PathValue("name")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "File deleted successfully"})
}

func (h *handler) schema(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	id = strings.TrimSuffix(id, filepath.Ext(id))

	raw, ext, err := h.cfg.Schemas.Raw(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	contentType := "application/yaml"
	if ext == ".json" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

type writeRequest struct {
	Data any `json:"data"`
}

// readData decodes {"data": ...} and encodes it as document content.
func (h *handler) readData(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var req writeRequest
	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return nil, false
	}
	if req.Data == nil {
		writeError(w, http.StatusBadRequest, "Data is required", nil)
		return nil, false
	}
	raw, err := h.svc.EncodeData(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return nil, false
	}
	return raw, true
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error", nil)
		return
	}

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		writeError(w, status, "Validation failed", verr.Errors)
		return
	}
	writeError(w, status, err.Error(), nil)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var verr *core.ValidationError
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyExists):
		return http.StatusConflict
	case errors.As(err, &verr), errors.Is(err, core.ErrInvalidPath), errors.Is(err, core.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrReadOnly):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes before touching the response so a payload without a JSON
// form becomes a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		status = http.StatusInternalServerError
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(map[string]any{"error": "internal error"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string, fieldErrors []core.FieldError) {
	response := map[string]any{"error": message}
	if fieldErrors != nil {
		response["errors"] = fieldErrors
	}
	writeJSON(w, status, response)
}
