// internal/postits/handler.go
package postits

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

func (h *Handler) Routes(r chi.Router) {
	r.Get("/postits", h.handleList)
	r.Post("/postits", h.handleCreate)
	r.Put("/postits/{postitID}", h.handleUpdate)
	r.Delete("/postits/{postitID}", h.handleDelete)
}

type contentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	notes, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, notes)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.service.Create(r.Context(), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusCreated, p)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.service.Update(r.Context(), chi.URLParam(r, "postitID"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "postitID")); err != nil {
		writeError(w, err)
		return
	}
	httpjson.JSON(w, http.StatusOK, httpjson.Message{Message: "Post-it removido"})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPostItNotFound):
		httpjson.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmptyContent):
		httpjson.Error(w, http.StatusBadRequest, err.Error())
	default:
		httpjson.Error(w, http.StatusInternalServerError, err.Error())
	}
}
