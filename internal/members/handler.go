// internal/members/handler.go
package members

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"familymiles/internal/companies"
	"familymiles/internal/httpjson"
	"familymiles/internal/loyalty"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the member, program, log and stats endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/members", h.handleList)
	r.Post("/members", h.handleCreate)
	r.Get("/members/{memberID}", h.handleGet)
	r.Delete("/members/{memberID}", h.handleDelete)
	r.Get("/members/{memberID}/log", h.handleMemberLog)
	r.Post("/members/{memberID}/programs/{companyID}", h.handleEnroll)
	r.Put("/members/{memberID}/programs/{companyID}", h.handleUpdateProgram)
	r.Delete("/members/{memberID}/programs/{companyID}", h.handleUnenroll)
	r.Put("/members/{memberID}/programs/{companyID}/fields", h.handleUpdateFields)
	r.Get("/global-log", h.handleGlobalLog)
	r.Get("/dashboard/stats", h.handleStats)
}

func programKey(r *http.Request) loyalty.Key {
	return loyalty.Key{MemberID: chi.URLParam(r, "memberID"), CompanyID: chi.URLParam(r, "companyID")}
}

// baseVersion reads the optional If-Match header carrying the record version
// the client edited from.
func baseVersion(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return AnyVersion, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid If-Match version %q", raw)
	}
	return v, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, members)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.service.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, CreateResult{
		Message:    fmt.Sprintf("Membro %s criado com sucesso", m.Name),
		MemberID:   m.ID,
		MemberName: m.Name,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Delete(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, CreateResult{
		Message:    fmt.Sprintf("Membro %s removido com sucesso", m.Name),
		MemberID:   m.ID,
		MemberName: m.Name,
	})
}

// handleMemberLog serves the member's history. It stays readable after the
// member is deleted; an unknown id yields an empty list.
func (h *Handler) handleMemberLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.MemberLog(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Enroll(r.Context(), programKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unenroll(r.Context(), programKey(r)); err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, httpjson.Message{Message: "Programa removido com sucesso"})
}

func (h *Handler) handleUpdateProgram(w http.ResponseWriter, r *http.Request) {
	base, err := baseVersion(r)
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	var patch loyalty.Patch
	if err := httpjson.Decode(r, &patch); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.service.UpdateProgram(r.Context(), programKey(r), patch, base)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(result.Record.Version)))
	httpjson.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleUpdateFields(w http.ResponseWriter, r *http.Request) {
	base, err := baseVersion(r)
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	var raw map[string]*string
	if err := httpjson.Decode(r, &raw); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	fields := make(map[string]string, len(raw))
	for name, v := range raw {
		if v == nil {
			fields[name] = loyalty.Empty
			continue
		}
		fields[name] = *v
	}
	result, err := h.service.UpdateCustomFields(r.Context(), programKey(r), fields, base)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(result.Record.Version)))
	httpjson.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleGlobalLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.GlobalLog(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []loyalty.LogEntry{}
	}
	httpjson.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, stats)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMemberNotFound), errors.Is(err, ErrNotEnrolled), errors.Is(err, companies.ErrCompanyNotFound):
		httpjson.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateMember), errors.Is(err, ErrInvalidMember), errors.Is(err, ErrProgramFull),
		errors.Is(err, loyalty.ErrUnknownField), errors.Is(err, loyalty.ErrInvalidFieldName):
		httpjson.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrAlreadyEnrolled):
		httpjson.Error(w, http.StatusConflict, err.Error())
	default:
		httpjson.Error(w, http.StatusInternalServerError, err.Error())
	}
}
