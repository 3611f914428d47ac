package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"assettrack/processor/internal/apply"
	"assettrack/processor/models"
	"assettrack/processor/repos"
	"assettrack/shared/fault"
	"assettrack/shared/logx"
)

type fakeStore struct {
	assets map[uuid.UUID]models.Asset
	events []models.EventRecord
	err    error

	lastCreate apply.CreateAssetInput
	lastUpdate apply.UpdateAssetInput
	lastFilter repos.EventFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{assets: make(map[uuid.UUID]models.Asset)}
}

func (f *fakeStore) CreateAsset(_ context.Context, in apply.CreateAssetInput) (models.Asset, error) {
	if f.err != nil {
		return models.Asset{}, f.err
	}
	f.lastCreate = in
	asset := models.Asset{
		AssetID:     uuid.New(),
		Name:        in.Name,
		Type:        in.Type,
		Location:    in.Location,
		Status:      in.Status,
		NodeID:      in.NodeID,
		Metadata:    in.Metadata,
		CreatedAt:   time.Now().UTC(),
		LastUpdated: time.Now().UTC(),
	}
	f.assets[asset.AssetID] = asset
	return asset, nil
}

func (f *fakeStore) GetAsset(_ context.Context, assetID uuid.UUID) (models.Asset, error) {
	if f.err != nil {
		return models.Asset{}, f.err
	}
	asset, ok := f.assets[assetID]
	if !ok {
		return models.Asset{}, fault.ErrNotFound
	}
	return asset, nil
}

func (f *fakeStore) ListAssets(_ context.Context, status string, assetType string, _ int, _ int) ([]models.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Asset, 0, len(f.assets))
	for _, a := range f.assets {
		if status != "" && a.Status != status {
			continue
		}
		if assetType != "" && a.Type != assetType {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) UpdateAsset(_ context.Context, assetID uuid.UUID, in apply.UpdateAssetInput) (models.Asset, error) {
	if f.err != nil {
		return models.Asset{}, f.err
	}
	f.lastUpdate = in
	asset, ok := f.assets[assetID]
	if !ok {
		return models.Asset{}, fault.ErrNotFound
	}
	if in.Name != nil {
		asset.Name = *in.Name
	}
	if in.Type != nil {
		asset.Type = *in.Type
	}
	if in.Location != nil {
		asset.Location = *in.Location
	}
	if in.Status != nil {
		asset.Status = *in.Status
	}
	f.assets[assetID] = asset
	return asset, nil
}

func (f *fakeStore) DeleteAsset(_ context.Context, assetID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.assets[assetID]; !ok {
		return fault.ErrNotFound
	}
	delete(f.assets, assetID)
	return nil
}

func (f *fakeStore) ListEvents(_ context.Context, filter repos.EventFilter) ([]models.EventRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastFilter = filter
	return f.events, nil
}

func (f *fakeStore) Stats(_ context.Context) (apply.StoreStats, error) {
	if f.err != nil {
		return apply.StoreStats{}, f.err
	}
	return apply.StoreStats{TotalAssets: int64(len(f.assets))}, nil
}

func newTestServer(store *fakeStore) *httptest.Server {
	mux := http.NewServeMux()
	Handlers{Store: store, Logger: logx.New("api-test", "test", "", "error")}.Register(mux)
	return httptest.NewServer(mux)
}

func doJSON(t *testing.T, method string, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

func TestCreateAsset(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(store)
	defer srv.Close()

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/assets",
		`{"name":"pump-7","status":"active","node_id":"node-1","metadata":{"site":"east"}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if body["name"] != "pump-7" {
		t.Errorf("name = %v", body["name"])
	}
	if store.lastCreate.NodeID != "node-1" {
		t.Errorf("node_id = %q", store.lastCreate.NodeID)
	}
	if store.lastCreate.Metadata["site"] != "east" {
		t.Errorf("metadata = %v", store.lastCreate.Metadata)
	}
}

func TestCreateAssetRoundTripsAllFields(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(store)
	defer srv.Close()

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/assets",
		`{"name":"forklift-7","type":"vehicle","location":"warehouse-2","metadata":{"capacity_kg":2000}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %v", resp.StatusCode, body)
	}
	if body["name"] != "forklift-7" {
		t.Errorf("name = %v", body["name"])
	}
	if body["type"] != "vehicle" {
		t.Errorf("type = %v", body["type"])
	}
	if body["location"] != "warehouse-2" {
		t.Errorf("location = %v", body["location"])
	}
	meta, ok := body["metadata"].(map[string]any)
	if !ok || meta["capacity_kg"] != float64(2000) {
		t.Errorf("metadata = %v", body["metadata"])
	}

	// The created asset reads back with the same fields.
	id := body["asset_id"].(string)
	resp, got := doJSON(t, http.MethodGet, srv.URL+"/assets/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	for _, key := range []string{"name", "type", "location"} {
		if got[key] != body[key] {
			t.Errorf("%s = %v after read, want %v", key, got[key], body[key])
		}
	}
}

func TestListAssetsFiltersByType(t *testing.T) {
	store := newFakeStore()
	_, _ = store.CreateAsset(context.Background(), apply.CreateAssetInput{Name: "f-1", Type: "vehicle", Status: "active"})
	_, _ = store.CreateAsset(context.Background(), apply.CreateAssetInput{Name: "s-1", Type: "sensor", Status: "active"})
	srv := newTestServer(store)
	defer srv.Close()

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/assets?type=sensor", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", body["count"])
	}
	assets := body["assets"].([]any)
	if assets[0].(map[string]any)["type"] != "sensor" {
		t.Errorf("filtered asset = %v", assets[0])
	}
}

func TestCreateAssetRejectsBadBody(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(store)
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name":`},
		{"unknown field", `{"name":"x","bogus":true}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/assets", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			errObj := body["error"].(map[string]any)
			if errObj["code"] != "INVALID_ARGUMENT" {
				t.Errorf("code = %v", errObj["code"])
			}
			if len(store.assets) != 0 {
				t.Error("store changed by rejected request")
			}
		})
	}
}

func TestCreateAssetValidationError(t *testing.T) {
	store := newFakeStore()
	store.err = fault.ErrValidation
	srv := newTestServer(store)
	defer srv.Close()

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/assets", `{"node_id":"node-1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetAsset(t *testing.T) {
	store := newFakeStore()
	asset, _ := store.CreateAsset(context.Background(), apply.CreateAssetInput{Name: "pump-7", Status: "active", NodeID: "node-1"})
	srv := newTestServer(store)
	defer srv.Close()

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/assets/"+asset.AssetID.String(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["asset_id"] != asset.AssetID.String() {
		t.Errorf("asset_id = %v", body["asset_id"])
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/assets/"+uuid.New().String(), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown asset status = %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/assets/not-a-uuid", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateAssetPartial(t *testing.T) {
	store := newFakeStore()
	asset, _ := store.CreateAsset(context.Background(), apply.CreateAssetInput{Name: "pump-7", Status: "active", NodeID: "node-1"})
	srv := newTestServer(store)
	defer srv.Close()

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/assets/"+asset.AssetID.String(), `{"status":"maintenance"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "maintenance" {
		t.Errorf("status = %v", body["status"])
	}
	if body["name"] != "pump-7" {
		t.Errorf("name = %v, partial update must not clear it", body["name"])
	}
	if store.lastUpdate.Name != nil {
		t.Error("name was sent in patch despite being absent from body")
	}
}

func TestUpdateAssetUnknownIs404(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(store)
	defer srv.Close()

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/assets/"+uuid.New().String(), `{"status":"active"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", errObj["code"])
	}
}

func TestDeleteAsset(t *testing.T) {
	store := newFakeStore()
	asset, _ := store.CreateAsset(context.Background(), apply.CreateAssetInput{Name: "pump-7", Status: "active", NodeID: "node-1"})
	srv := newTestServer(store)
	defer srv.Close()

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/assets/"+asset.AssetID.String(), "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if len(store.assets) != 0 {
		t.Error("asset not deleted")
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/assets/"+asset.AssetID.String(), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestListAssetsAndPaging(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 3; i++ {
		_, _ = store.CreateAsset(context.Background(), apply.CreateAssetInput{Name: "a", Status: "active", NodeID: "node-1"})
	}
	srv := newTestServer(store)
	defer srv.Close()

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/assets", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["count"].(float64) != 3 {
		t.Errorf("count = %v", body["count"])
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/assets?limit=bad", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestListEventsFilter(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(store)
	defer srv.Close()

	assetID := uuid.New()
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/events?event_type=update&asset_id="+assetID.String(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if store.lastFilter.EventType != "update" {
		t.Errorf("event_type filter = %q", store.lastFilter.EventType)
	}
	if store.lastFilter.AssetID == nil || *store.lastFilter.AssetID != assetID {
		t.Errorf("asset_id filter = %v", store.lastFilter.AssetID)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/events?asset_id=nope", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad asset_id status = %d, want 400", resp.StatusCode)
	}
}

func TestFaultMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"conflict", fault.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"store down", fault.ErrStoreUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"queue down", fault.ErrQueueUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			store.err = tc.err
			srv := newTestServer(store)
			defer srv.Close()

			resp, body := doJSON(t, http.MethodPost, srv.URL+"/assets", `{"name":"x","node_id":"n"}`)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			errObj := body["error"].(map[string]any)
			if errObj["code"] != tc.code {
				t.Errorf("code = %v, want %s", errObj["code"], tc.code)
			}
		})
	}
}
