// Package httpapi exposes the asset CRUD surface over the store.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"assettrack/processor/internal/apply"
	"assettrack/processor/models"
	"assettrack/processor/repos"
	"assettrack/shared/fault"
	"assettrack/shared/httpx"
	"assettrack/shared/logx"
)

const maxBodyBytes = 1 << 20

// Store is the slice of apply.Store the handlers need; tests swap in fakes.
type Store interface {
	CreateAsset(ctx context.Context, in apply.CreateAssetInput) (models.Asset, error)
	GetAsset(ctx context.Context, assetID uuid.UUID) (models.Asset, error)
	ListAssets(ctx context.Context, status string, assetType string, limit int, offset int) ([]models.Asset, error)
	UpdateAsset(ctx context.Context, assetID uuid.UUID, in apply.UpdateAssetInput) (models.Asset, error)
	DeleteAsset(ctx context.Context, assetID uuid.UUID) error
	ListEvents(ctx context.Context, filter repos.EventFilter) ([]models.EventRecord, error)
	Stats(ctx context.Context) (apply.StoreStats, error)
}

type Handlers struct {
	Store  Store
	Logger logx.Logger
}

func (h Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /assets", h.listAssets)
	mux.HandleFunc("POST /assets", h.createAsset)
	mux.HandleFunc("GET /assets/{id}", h.getAsset)
	mux.HandleFunc("PUT /assets/{id}", h.updateAsset)
	mux.HandleFunc("DELETE /assets/{id}", h.deleteAsset)
	mux.HandleFunc("GET /events", h.listEvents)
	mux.HandleFunc("GET /stats", h.stats)
}

type assetRequest struct {
	Name     *string        `json:"name"`
	Type     *string        `json:"type"`
	Location *string        `json:"location"`
	Status   *string        `json:"status"`
	NodeID   string         `json:"node_id"`
	Metadata map[string]any `json:"metadata"`
}

func (h Handlers) createAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in := apply.CreateAssetInput{NodeID: req.NodeID, Metadata: req.Metadata}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Type != nil {
		in.Type = *req.Type
	}
	if req.Location != nil {
		in.Location = *req.Location
	}
	if req.Status != nil {
		in.Status = *req.Status
	}

	asset, err := h.Store.CreateAsset(r.Context(), in)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, asset)
}

func (h Handlers) getAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathUUID(w, r)
	if !ok {
		return
	}
	asset, err := h.Store.GetAsset(r.Context(), assetID)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, asset)
}

func (h Handlers) listAssets(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	assetType := strings.TrimSpace(r.URL.Query().Get("type"))

	assets, err := h.Store.ListAssets(r.Context(), status, assetType, limit, offset)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"assets": assets,
		"count":  len(assets),
	})
}

func (h Handlers) updateAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req assetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	asset, err := h.Store.UpdateAsset(r.Context(), assetID, apply.UpdateAssetInput{
		Name:     req.Name,
		Type:     req.Type,
		Location: req.Location,
		Status:   req.Status,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeFault(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, asset)
}

func (h Handlers) deleteAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteAsset(r.Context(), assetID); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	filter := repos.EventFilter{
		EventType: strings.TrimSpace(r.URL.Query().Get("event_type")),
		NodeID:    strings.TrimSpace(r.URL.Query().Get("node_id")),
		Limit:     limit,
		Offset:    offset,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("asset_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid asset_id", nil)
			return
		}
		filter.AssetID = &id
	}

	recs, err := h.Store.ListEvents(r.Context(), filter)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"events": recs,
		"count":  len(recs),
	})
}

func (h Handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		writeFault(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid asset id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, ok := intParam(w, r, "limit", 50)
	if !ok {
		return 0, 0, false
	}
	offset, ok := intParam(w, r, "offset", 0)
	if !ok {
		return 0, 0, false
	}
	if limit > 500 {
		limit = 500
	}
	return limit, offset, true
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid "+name, nil)
		return 0, false
	}
	return n, true
}

// writeFault maps the pipeline error kinds onto the HTTP error envelope.
func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fault.ErrValidation):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
	case errors.Is(err, fault.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "asset not found", nil)
	case errors.Is(err, fault.ErrConflict):
		httpx.WriteError(w, r, http.StatusConflict, "CONFLICT", "conflicting write, retry", nil)
	case errors.Is(err, fault.ErrStoreUnavailable):
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "store unavailable", nil)
	case errors.Is(err, fault.ErrQueueUnavailable):
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "queue unavailable", nil)
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
	}
}
