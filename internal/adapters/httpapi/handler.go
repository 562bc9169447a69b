// Package httpapi serves the selection, submission and table workflows as a
// JSON and CSV API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ratedesk/internal/blob"
	"ratedesk/internal/core"
	"ratedesk/pkg/domain"
)

// UserHeader carries the authenticated username set by the fronting proxy.
const UserHeader = "X-Forwarded-User"

const dateLayout = "2006-01-02"

// Handler routes API requests onto the service.
type Handler struct {
	Service *core.Service
	Exports ExportScheduler
	Blobs   blob.Store
	Metrics http.Handler
	Logger  core.Logger
}

// NewHandler constructs a handler for svc.
func NewHandler(svc *core.Service) *Handler {
	return &Handler{Service: svc, Logger: core.NopLogger()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "service not configured")
		return
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/healthz":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case path == "/metrics":
		if h.Metrics == nil {
			http.NotFound(w, r)
			return
		}
		h.Metrics.ServeHTTP(w, r)
	case path == "/api/v1/variants":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleVariants(w)
	case strings.HasPrefix(path, "/api/v1/"):
		h.handleVariant(w, r, strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/"))
	default:
		http.NotFound(w, r)
	}
}

type variantResponse struct {
	domain.Variant
	Steps [4]string `json:"steps"`
}

func (h *Handler) handleVariants(w http.ResponseWriter) {
	variants := h.Service.Variants()
	out := make([]variantResponse, len(variants))
	for i, v := range variants {
		out[i] = variantResponse{Variant: v, Steps: v.StepLabels()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": out})
}

func (h *Handler) handleVariant(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) < 2 {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}
	name := domain.VariantName(segments[0])
	if _, err := h.Service.Variant(name); err != nil {
		h.writeServiceError(w, err)
		return
	}
	switch segments[1] {
	case "sessions":
		h.handleSessions(w, r, name, segments[2:])
	case "exports":
		h.handleExports(w, r, name, segments[2:])
	default:
		writeError(w, http.StatusNotFound, "endpoint not found")
	}
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request, name domain.VariantName, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		sess, err := h.Service.NewSession(name)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.withSession(w, r, name, sess.ID, func(sess *core.Session) (int, any, error) {
			resp, err := h.sessionResponse(r, sess)
			return http.StatusCreated, resp, err
		})
		return
	}

	id := rest[0]
	action := strings.Join(rest[1:], "/")
	switch {
	case action == "" && r.Method == http.MethodGet:
		h.withSession(w, r, name, id, func(sess *core.Session) (int, any, error) {
			resp, err := h.sessionResponse(r, sess)
			return http.StatusOK, resp, err
		})
	case action == "selection" && r.Method == http.MethodPut:
		h.handleSelection(w, r, name, id)
	case action == "submit" && r.Method == http.MethodPost:
		h.handleSubmit(w, r, name, id)
	case action == "reset" && r.Method == http.MethodPost:
		h.withSession(w, r, name, id, func(sess *core.Session) (int, any, error) {
			h.Service.ResetSelection(sess)
			resp, err := h.sessionResponse(r, sess)
			return http.StatusOK, resp, err
		})
	case action == "table" && r.Method == http.MethodGet:
		h.handleTable(w, r, name, id)
	case action == "table.csv" && r.Method == http.MethodGet:
		h.handleTableCSV(w, r, name, id)
	case action == "table/apply" && r.Method == http.MethodPost:
		h.handleApply(w, r, name, id)
	case action == "exports" && r.Method == http.MethodPost:
		h.handleExportCreate(w, r, name, id)
	case action == "" || action == "selection" || action == "submit" || action == "reset" ||
		action == "table" || action == "table.csv" || action == "table/apply" || action == "exports":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "endpoint not found")
	}
}

// withSession runs fn under the session lock and writes its result. A nil
// payload with a nil error means fn already wrote the response.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, name domain.VariantName, id string, fn func(*core.Session) (int, any, error)) {
	var (
		status  int
		payload any
	)
	err := h.Service.WithSession(name, id, func(sess *core.Session) error {
		var err error
		status, payload, err = fn(sess)
		return err
	})
	if err != nil {
		h.Logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if payload != nil {
			writeJSON(w, statusFor(err), payload)
			return
		}
		h.writeServiceError(w, err)
		return
	}
	if payload != nil {
		writeJSON(w, status, payload)
	}
}

type sessionPayload struct {
	ID        string             `json:"id"`
	Variant   domain.VariantName `json:"variant"`
	Title     string             `json:"title"`
	State     core.SubmitState   `json:"state"`
	Selection core.Selection     `json:"selection"`
	Steps     []core.Step        `json:"steps"`
	Banners   []core.Banner      `json:"banners"`
	ViewID    string             `json:"view_id,omitempty"`
}

func (h *Handler) sessionResponse(r *http.Request, sess *core.Session) (sessionPayload, error) {
	v, err := h.Service.Variant(sess.Variant)
	if err != nil {
		return sessionPayload{}, err
	}
	steps, err := h.Service.Steps(r.Context(), sess)
	if err != nil {
		return sessionPayload{}, err
	}
	out := sessionPayload{
		ID:        sess.ID,
		Variant:   sess.Variant,
		Title:     v.Title,
		State:     sess.Selection.State(),
		Selection: sess.Selection,
		Steps:     steps,
		Banners:   sess.Banners(h.Service.Now()),
	}
	if sess.View != nil {
		out.ViewID = sess.View.ID
	}
	return out, nil
}

func (h *Handler) handleSelection(w http.ResponseWriter, r *http.Request, name domain.VariantName, id string) {
	var update core.SelectionUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}
	h.withSession(w, r, name, id, func(sess *core.Session) (int, any, error) {
		if _, err := h.Service.UpdateSelection(r.Context(), sess, update); err != nil {
			return 0, nil, err
		}
		resp, err := h.sessionResponse(r, sess)
		return http.StatusOK, resp, err
	})
}

type submitPayload struct {
	Outcome core.SubmitOutcome `json:"outcome"`
	Session *sessionPayload    `json:"session,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request, name domain.VariantName, id string) {
	username := r.Header.Get(UserHeader)
	h.withSession(w, r, name, id, func(sess *core.Session) (int, any, error) {
		outcome, err := h.Service.Submit(r.Context(), sess, username)
		switch {
		case err == nil:
		case domain.IsValidation(err):
			return 0, submitPayload{Outcome: outcome, Error: err.Error()}, err
		case domain.IsStore(err):
			// The form stays as entered and the banner carries the failure.
		default:
			return 0, nil, err
		}
		resp, rerr := h.sessionResponse(r, sess)
		if rerr != nil {
			return 0, nil, rerr
		}
		return http.StatusOK, submitPayload{Outcome: outcome, Session: &resp}, nil
	})
}

type tablePayload struct {
	View    *core.View    `json:"view"`
	Banners []core.Banner `json:"banners"`
}

func (h *Handler) handleTable(w http.ResponseWriter, r *http.Request, name domain.VariantName, id string) {
	filter, sortField, err := parseTableQuery(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.withSession(w, r, name, id, func(sess *core.Session) (int, any, error) {
		view, err := h.Service.RenderTable(r.Context(), sess, filter, sortField)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, tablePayload{View: view, Banners: sess.Banners(h.Service.Now())}, nil
	})
}

func (h *Handler) handleTableCSV(w http.ResponseWriter, r *http.Request, name domain.VariantName, id string) {
	filter, sortField, err := parseTableQuery(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.withSession(w, r, name, id, func(sess *core.Session) (int, any, error) {
		view, err := h.Service.PreviewTable(r.Context(), sess, filter, sortField)
		if err != nil {
			return 0, nil, err
		}
		v, err := h.Service.Variant(name)
		if err != nil {
			return 0, nil, err
		}
		streamCSV(w, v, view)
		return 0, nil, nil
	})
}

type applyRequest struct {
	ViewID string           `json:"view_id"`
	Rows   []core.EditedRow `json:"rows"`
}

type applyPayload struct {
	core.ApplyResult
	Banners []core.Banner `json:"banners"`
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request, name domain.VariantName, id string) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}
	if req.Rows == nil {
		writeError(w, http.StatusBadRequest, "rows required")
		return
	}
	username := r.Header.Get(UserHeader)
	h.withSession(w, r, name, id, func(sess *core.Session) (int, any, error) {
		result, err := h.Service.ApplyEdits(r.Context(), sess, req.ViewID, req.Rows, username)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, applyPayload{ApplyResult: result, Banners: sess.Banners(h.Service.Now())}, nil
	})
}

func (h *Handler) handleExportCreate(w http.ResponseWriter, r *http.Request, name domain.VariantName, id string) {
	if h.Exports == nil {
		writeError(w, http.StatusNotFound, "exports not configured")
		return
	}
	v, err := h.Service.Variant(name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	username := r.Header.Get(UserHeader)
	if username == "" {
		username = core.DefaultEditUsername
	}
	h.withSession(w, r, name, id, func(sess *core.Session) (int, any, error) {
		if sess.View == nil {
			return 0, nil, &domain.ValidationError{Field: "view", Message: "render the table before exporting"}
		}
		record, err := h.Exports.EnqueueExport(r.Context(), ExportInput{
			Variant:     v,
			ViewID:      sess.View.ID,
			Records:     sess.View.Records(),
			RequestedBy: username,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusAccepted, map[string]any{"export": record}, nil
	})
}

func (h *Handler) handleExports(w http.ResponseWriter, r *http.Request, name domain.VariantName, rest []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch len(rest) {
	case 0:
		if h.Blobs == nil {
			writeError(w, http.StatusNotFound, "exports not configured")
			return
		}
		infos, err := h.Blobs.List(r.Context(), fmt.Sprintf("exports/%s/", name))
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if infos == nil {
			infos = []blob.Info{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"exports": infos})
	case 1:
		if h.Exports == nil {
			writeError(w, http.StatusNotFound, "exports not configured")
			return
		}
		record, ok := h.Exports.GetExport(rest[0])
		if !ok || record.Variant != name {
			writeError(w, http.StatusNotFound, "export not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"export": record})
	default:
		writeError(w, http.StatusNotFound, "endpoint not found")
	}
}

func parseTableQuery(r *http.Request) (core.FilterConfig, domain.Field, error) {
	q := r.URL.Query()
	filter := core.FilterConfig{
		Organization: strings.TrimSpace(q.Get("organization")),
		Program:      strings.TrimSpace(q.Get("program")),
		Product:      strings.TrimSpace(q.Get("product")),
		Username:     q.Get("username"),
	}
	var err error
	if filter.MeasureMin, err = parseBound(q.Get("measure_min"), "measure_min"); err != nil {
		return core.FilterConfig{}, "", err
	}
	if filter.MeasureMax, err = parseBound(q.Get("measure_max"), "measure_max"); err != nil {
		return core.FilterConfig{}, "", err
	}
	if filter.UpdatedFrom, err = parseDate(q.Get("updated_from"), "updated_from"); err != nil {
		return core.FilterConfig{}, "", err
	}
	if filter.UpdatedTo, err = parseDate(q.Get("updated_to"), "updated_to"); err != nil {
		return core.FilterConfig{}, "", err
	}
	sortField, err := core.ParseSortField(q.Get("sort"))
	if err != nil {
		return core.FilterConfig{}, "", err
	}
	return filter, sortField, nil
}

func parseBound(raw, field string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &domain.ValidationError{Field: field, Message: "must be a finite number"}
	}
	return &v, nil
}

func parseDate(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: field, Message: "must be a date (YYYY-MM-DD)"}
	}
	return t, nil
}

func streamCSV(w http.ResponseWriter, v domain.Variant, view *core.View) {
	filename := fmt.Sprintf("%s-%s.csv", v.Name, view.RenderedAt.UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.WriteHeader(http.StatusOK)
	_ = core.WriteCSV(w, v, view.Records())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownVariant), errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity
	case domain.IsStore(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
