package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ProvChain/internal/auth"
	"ProvChain/internal/chain"
	"ProvChain/internal/ledger"
)

const ownerPrincipal = "registry-owner"

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store, chain.NewLogicalClock(1), ownerPrincipal)
	authSvc, err := auth.NewService(auth.Config{Enabled: false})
	if err != nil {
		t.Fatalf("auth.NewService failed: %v", err)
	}
	return NewServer(":0", svc, authSvc).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, principal string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if principal != "" {
		req.Header.Set("X-Provchain-Principal", principal)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func registerModelViaAPI(t *testing.T, handler http.Handler, id string, confidence int) {
	t.Helper()
	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/models", ownerPrincipal, map[string]any{
		"model_id":         id,
		"name":             "diffusion attribution",
		"version":          "1.0",
		"confidence_level": confidence,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register model status = %d body = %s", recorder.Code, recorder.Body.String())
	}
}

func registerAssetViaAPI(t *testing.T, handler http.Handler, creator string, assetID uint64, modelID string, score int) {
	t.Helper()
	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/assets", creator, map[string]any{
		"asset_id":      assetID,
		"model_id":      modelID,
		"initial_score": score,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register asset status = %d body = %s", recorder.Code, recorder.Body.String())
	}
}

func TestMissingPrincipalIsUnauthorized(t *testing.T) {
	handler := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/models", "", map[string]any{"model_id": "m1"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestRegisterModelEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	registerModelViaAPI(t, handler, "m1", 90)

	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/models/m1", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get model status = %d", recorder.Code)
	}
	var model ledger.AIModel
	decodeBody(t, recorder, &model)
	if model.ID != "m1" || model.ConfidenceLevel != 90 || !model.IsActive {
		t.Fatalf("unexpected model: %+v", model)
	}

	// Non-owners hit the role gate.
	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/models", "mallory", map[string]any{
		"model_id": "m2", "confidence_level": 90,
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("non-owner status = %d, want 403", recorder.Code)
	}

	// Out-of-range confidence is a client error.
	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/models", ownerPrincipal, map[string]any{
		"model_id": "m3", "confidence_level": 69,
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("low confidence status = %d, want 400", recorder.Code)
	}

	// Re-registering an existing id always conflicts, bad confidence included.
	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/models", ownerPrincipal, map[string]any{
		"model_id": "m1", "confidence_level": 5,
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate model status = %d, want 409", recorder.Code)
	}
}

func TestGetModelMissing(t *testing.T) {
	handler := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/models/ghost", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

func TestAssetEndpoints(t *testing.T) {
	handler := newTestHandler(t)
	registerModelViaAPI(t, handler, "m1", 90)
	registerAssetViaAPI(t, handler, "p1", 1, "m1", 80)

	// Duplicate registration conflicts.
	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/assets", "p2", map[string]any{
		"asset_id": 1, "model_id": "m1", "initial_score": 80,
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate asset status = %d, want 409", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/assets/1", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get asset status = %d", recorder.Code)
	}
	var record ledger.ProvenanceRecord
	decodeBody(t, recorder, &record)
	if record.CurrentOwner != "p1" || record.AuthenticityScore != 80 {
		t.Fatalf("unexpected record: %+v", record)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/assets/404", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("missing asset status = %d, want 404", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/assets/not-a-number", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad asset id status = %d, want 400", recorder.Code)
	}
}

func TestScoreEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	registerModelViaAPI(t, handler, "m1", 90)
	registerAssetViaAPI(t, handler, "p1", 1, "m1", 80)

	// No grant yet.
	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/assets/1/score", "verifier", map[string]any{"score": 50})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("ungranted verifier status = %d, want 403", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/verifiers", ownerPrincipal, map[string]any{"principal": "verifier"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("authorize verifier status = %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/verifiers/verifier", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get verifier status = %d", recorder.Code)
	}
	var grant struct {
		Authorized bool `json:"authorized"`
	}
	decodeBody(t, recorder, &grant)
	if !grant.Authorized {
		t.Fatalf("verifier not reported authorized")
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/assets/1/score", "verifier", map[string]any{"score": 50})
	if recorder.Code != http.StatusOK {
		t.Fatalf("update score status = %d body = %s", recorder.Code, recorder.Body.String())
	}
	var record ledger.ProvenanceRecord
	decodeBody(t, recorder, &record)
	if record.AuthenticityScore != 50 {
		t.Fatalf("score after update = %d, want 50", record.AuthenticityScore)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/assets/1/score", "verifier", map[string]any{"score": 101})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range score status = %d, want 400", recorder.Code)
	}
}

func TestTransferEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	registerModelViaAPI(t, handler, "M1", 90)
	registerAssetViaAPI(t, handler, "P1", 1, "M1", 60)

	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/assets/1/transfer", "P1", map[string]any{
		"new_owner":         "P2",
		"price":             1000,
		"verification_hash": "H1",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("transfer status = %d body = %s", recorder.Code, recorder.Body.String())
	}
	var result ledger.TransferResult
	decodeBody(t, recorder, &result)
	if result.Record.CurrentOwner != "P2" || result.Record.AuthenticityScore != 78 || result.Record.TransferCount != 1 {
		t.Fatalf("unexpected record: %+v", result.Record)
	}
	if result.Entry.TransferIndex != 0 || result.Entry.Price != 1000 || result.Entry.VerificationHash != "H1" {
		t.Fatalf("unexpected entry: %+v", result.Entry)
	}

	// The former owner has no claim left.
	recorder = doJSON(t, handler, http.MethodPost, "/api/v1/assets/1/transfer", "P1", map[string]any{"new_owner": "P3"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("former owner status = %d, want 403", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/assets/1/history", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("history status = %d", recorder.Code)
	}
	var history []ledger.HistoryEntry
	decodeBody(t, recorder, &history)
	if len(history) != 1 || history[0].FromOwner != "P1" || history[0].ToOwner != "P2" {
		t.Fatalf("unexpected history: %+v", history)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/assets/1/history/0", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("history entry status = %d body = %s", recorder.Code, recorder.Body.String())
	}
	var entry ledger.HistoryEntry
	decodeBody(t, recorder, &entry)
	if entry.TransferIndex != 0 || entry.VerificationHash != "H1" {
		t.Fatalf("unexpected history entry: %+v", entry)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/assets/1/history/9", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("out-of-range entry status = %d, want 404", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/v1/assets/1/history/abc", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad index status = %d, want 400", recorder.Code)
	}
}

func TestTransferBelowThresholdIsUnprocessable(t *testing.T) {
	handler := newTestHandler(t)
	registerModelViaAPI(t, handler, "m1", 70)
	registerAssetViaAPI(t, handler, "p1", 1, "m1", 0)

	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/assets/1/transfer", "p1", map[string]any{"new_owner": "p2"})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", recorder.Code)
	}
	var errBody struct {
		Code string `json:"code"`
	}
	decodeBody(t, recorder, &errBody)
	if errBody.Code != string(ledger.CodeTransferFailed) {
		t.Fatalf("error code = %q, want TRANSFER_FAILED", errBody.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	registerModelViaAPI(t, handler, "m1", 90)
	for i := 1; i <= 3; i++ {
		registerAssetViaAPI(t, handler, "p1", uint64(i), "m1", 80)
	}

	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/stats", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("stats status = %d", recorder.Code)
	}
	var counters ledger.Counters
	decodeBody(t, recorder, &counters)
	if counters.TotalModels != 1 || counters.TotalAssets != 3 {
		t.Fatalf("counters = %+v", counters)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	registerModelViaAPI(t, handler, "m1", 90)

	recorder := doJSON(t, handler, http.MethodGet, "/metrics", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", recorder.Code)
	}
	if !bytes.Contains(recorder.Body.Bytes(), []byte("provchain_http_requests_total")) {
		t.Fatalf("metrics output missing request counter: %s", recorder.Body.String())
	}
}

func TestBadJSONBody(t *testing.T) {
	handler := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/models", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Provchain-Principal", ownerPrincipal)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestAPIKeyAuthEnabled(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store, chain.NewLogicalClock(1), ownerPrincipal)
	authSvc, err := auth.NewService(auth.Config{
		Enabled: true,
		Keys:    []auth.KeyEntry{{Key: "owner-key", Principal: ownerPrincipal}},
	})
	if err != nil {
		t.Fatalf("auth.NewService failed: %v", err)
	}
	handler := NewServer(":0", svc, authSvc).Handler()

	body, _ := json.Marshal(map[string]any{"model_id": "m1", "confidence_level": 90})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/models", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", recorder.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/models", bytes.NewReader(body))
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", "owner-key"))
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("authenticated status = %d body = %s", recorder.Code, recorder.Body.String())
	}

	// With auth enabled the dev header is ignored.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/models", bytes.NewReader(body))
	req.Header.Set("X-Provchain-Principal", ownerPrincipal)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("dev header with auth enabled status = %d, want 401", recorder.Code)
	}
}
