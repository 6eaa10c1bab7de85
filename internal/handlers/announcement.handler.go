package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/internal/services"
	xhttp "github.com/tenantops/announcer/pkg/http"
)

type AnnouncementService interface {
	Create(ctx context.Context, req services.AnnouncementCreateRequest) (*model.Announcement, error)
	Dispatch(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*model.Announcement, error)
	ListRecipients(ctx context.Context, id int64) ([]*model.Recipient, error)
}

type AnnouncementHandler struct {
	svc AnnouncementService
}

func RegisterAnnouncementRoutes(e *router.Group, h *AnnouncementHandler) {
	e.POST("/announcements", h.CreateAnnouncement)
	e.POST("/announcements/{id}/dispatch", h.DispatchAnnouncement)
	e.GET("/announcements/{id}", h.GetAnnouncement)
	e.GET("/announcements/{id}/recipients", h.ListRecipients)
}

func NewAnnouncementHandler(svc AnnouncementService) *AnnouncementHandler {
	return &AnnouncementHandler{svc: svc}
}

type dispatchResponse struct {
	AnnouncementID int64  `json:"announcement_id"`
	Status         string `json:"status"`
}

type recipientsResponse struct {
	Items []*model.Recipient `json:"items"`
	Total int                `json:"total"`
}

func (h *AnnouncementHandler) CreateAnnouncement(ctx *xhttp.RequestCtx) {
	var req services.AnnouncementCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	a, err := h.svc.Create(ctx, req)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, a)
}

// DispatchAnnouncement accepts the fan-out request and returns 202: the
// actual work happens in the dispatch workers.
func (h *AnnouncementHandler) DispatchAnnouncement(ctx *xhttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid announcement id")
		return
	}

	if err := h.svc.Dispatch(ctx, id); err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			writeError(ctx, xhttp.StatusNotFound, err.Error())
		case errors.Is(err, services.ErrNotDraft):
			writeError(ctx, xhttp.StatusConflict, err.Error())
		default:
			writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(ctx, xhttp.StatusAccepted, dispatchResponse{
		AnnouncementID: id,
		Status:         "accepted",
	})
}

func (h *AnnouncementHandler) GetAnnouncement(ctx *xhttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid announcement id")
		return
	}

	a, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, xhttp.StatusNotFound, err.Error())
			return
		}
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, a)
}

func (h *AnnouncementHandler) ListRecipients(ctx *xhttp.RequestCtx) {
	id, err := pathID(ctx)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid announcement id")
		return
	}

	items, err := h.svc.ListRecipients(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, xhttp.StatusNotFound, err.Error())
			return
		}
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, recipientsResponse{Items: items, Total: len(items)})
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathID(ctx *xhttp.RequestCtx) (int64, error) {
	v, _ := ctx.UserValue("id").(string)
	return strconv.ParseInt(v, 10, 64)
}
