// internal/companies/handler.go
package companies

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"familymiles/internal/httpjson"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the company endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/companies", h.handleList)
	r.Post("/companies", h.handleCreate)
	r.Get("/companies/{companyID}", h.handleGet)
	r.Put("/companies/{companyID}", h.handleRename)
	r.Delete("/companies/{companyID}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	companies, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, companies)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, c)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusCreated, c)
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.service.Rename(r.Context(), chi.URLParam(r, "companyID"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, c)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "companyID")); err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, httpjson.Message{Message: "Company deleted successfully"})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCompanyNotFound):
		httpjson.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidCompany):
		httpjson.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateCompany), errors.Is(err, ErrCompanyInUse):
		httpjson.Error(w, http.StatusConflict, err.Error())
	default:
		httpjson.Error(w, http.StatusInternalServerError, err.Error())
	}
}
