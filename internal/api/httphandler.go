package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docs4usync/internal/activity"
	"docs4usync/internal/connector"
	"docs4usync/internal/outputdesc"
	"docs4usync/internal/ports"
	"docs4usync/internal/specfile"
	"docs4usync/internal/types"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

const maxMultipartMemory = 32 << 20

type Handler struct {
	Pool       *connector.Pool
	Activities ports.ActivityRecorder
	// Journal, when set, backs GET /activities.
	Journal *activity.Journal
	// DefaultSpec supplies the specification used when a request carries no description.
	DefaultSpec func() types.Specification
}

func NewHandler(pool *connector.Pool, activities ports.ActivityRecorder, journal *activity.Journal, defaultSpec func() types.Specification) *Handler {
	return &Handler{
		Pool:        pool,
		Activities:  activities,
		Journal:     journal,
		DefaultSpec: defaultSpec,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /check", h.handleCheck)
	mux.HandleFunc("GET /metadata", h.handleMetadata)
	mux.HandleFunc("GET /activities", h.handleActivities)
	mux.HandleFunc("POST /description", h.handleDescription)
	mux.HandleFunc("PUT /documents", h.handleUpsert)
	mux.HandleFunc("DELETE /documents", h.handleRemove)
	return mux
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var msg string
	err := h.Pool.With(r.Context(), func(c *connector.Connector) error {
		var err error
		msg, err = c.Check(r.Context())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"status": msg})
}

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var names []string
	err := h.Pool.With(r.Context(), func(c *connector.Connector) error {
		var err error
		names, err = c.RequestInfo(r.Context(), "metadata")
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"names": names})
}

func (h *Handler) handleActivities(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		http.Error(w, "activity journal disabled", http.StatusNotFound)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"activities": h.Journal.Recent()})
}

func (h *Handler) handleDescription(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()
	spec, err := specfile.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"description": outputdesc.Encode(spec)})
}

// description returns the request's description or the default specification's.
func (h *Handler) description(r *http.Request) (string, bool) {
	if d := r.FormValue("description"); d != "" {
		return d, true
	}
	if h.DefaultSpec == nil {
		return "", false
	}
	return outputdesc.Encode(h.DefaultSpec()), true
}

// handleUpsert takes a multipart form: "document" is the JSON document, "content" its
// body, and "description" an optional output description.
func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		http.Error(w, "expected multipart form", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	var doc types.Document
	if err := json.Unmarshal([]byte(r.FormValue("document")), &doc); err != nil {
		http.Error(w, "invalid document json", http.StatusBadRequest)
		return
	}
	if doc.URI == "" {
		http.Error(w, "document uri is required", http.StatusBadRequest)
		return
	}
	desc, ok := h.description(r)
	if !ok {
		http.Error(w, "description is required", http.StatusBadRequest)
		return
	}

	content, header, err := r.FormFile("content")
	switch {
	case err == nil:
		defer content.Close()
		doc.Content = content
		doc.ContentLength = header.Size
	case errors.Is(err, http.ErrMissingFile):
		doc.Content = strings.NewReader("")
		doc.ContentLength = 0
	default:
		http.Error(w, "invalid content part", http.StatusBadRequest)
		return
	}

	var status types.DocumentStatus
	err = h.Pool.With(r.Context(), func(c *connector.Connector) error {
		var err error
		status, err = c.AddOrReplaceDocument(r.Context(), doc.URI, desc, &doc, r.FormValue("authority"), h.Activities)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if status == types.DocumentRejected {
		code = http.StatusUnprocessableEntity
	}
	_ = writeJSON(w, code, map[string]any{"status": types.StatusTextMap[status]})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		http.Error(w, "uri is required", http.StatusBadRequest)
		return
	}
	desc, ok := h.description(r)
	if !ok {
		http.Error(w, "description is required", http.StatusBadRequest)
		return
	}
	err := h.Pool.With(r.Context(), func(c *connector.Connector) error {
		return c.RemoveDocument(r.Context(), uri, desc, h.Activities)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
}

// writeError maps connector failures onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var si *types.ServiceInterruption
	switch {
	case errors.As(err, &si):
		if !si.RetryAfter.IsZero() {
			secs := int(time.Until(si.RetryAfter).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case types.IsInterrupted(err), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "interrupted", http.StatusServiceUnavailable)
	case errors.Is(err, types.ErrMalformedDescription), errors.Is(err, types.ErrInvalidSpecification):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, types.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.WithError(err).Error("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}
