package provchain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterAndTransferRoundTrip(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.Method + " " + r.URL.Path {
		case "POST /api/v1/assets":
			var req RegisterAssetRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode asset request: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Record{AssetID: req.AssetID, CurrentOwner: "P1", AuthenticityScore: req.InitialScore})
		case "POST /api/v1/assets/1/transfer":
			_ = json.NewEncoder(w).Encode(TransferResult{
				Record: &Record{AssetID: 1, CurrentOwner: "P2", AuthenticityScore: 78, TransferCount: 1},
				Entry:  &HistoryEntry{AssetID: 1, TransferIndex: 0, FromOwner: "P1", ToOwner: "P2", Price: 1000},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.SetAPIKey("owner-key")
	ctx := context.Background()

	record, err := client.RegisterAsset(ctx, RegisterAssetRequest{AssetID: 1, ModelID: "M1", InitialScore: 60})
	if err != nil {
		t.Fatalf("RegisterAsset failed: %v", err)
	}
	if record.AssetID != 1 || record.AuthenticityScore != 60 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if gotAuth != "Bearer owner-key" {
		t.Fatalf("authorization header = %q", gotAuth)
	}

	result, err := client.TransferAsset(ctx, 1, TransferRequest{NewOwner: "P2", Price: 1000, VerificationHash: "H1"})
	if err != nil {
		t.Fatalf("TransferAsset failed: %v", err)
	}
	if result.Record.CurrentOwner != "P2" || result.Record.TransferCount != 1 {
		t.Fatalf("unexpected transfer result: %+v", result.Record)
	}
	if result.Entry.TransferIndex != 0 || result.Entry.Price != 1000 {
		t.Fatalf("unexpected history entry: %+v", result.Entry)
	}
}

func TestDevPrincipalHeader(t *testing.T) {
	var gotPrincipal string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal = r.Header.Get("X-Provchain-Principal")
		_ = json.NewEncoder(w).Encode(Stats{TotalAssets: 3, TotalModels: 1})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.SetDevPrincipal("registry-owner")

	stats, err := client.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalAssets != 3 || stats.TotalModels != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if gotPrincipal != "registry-owner" {
		t.Fatalf("dev principal header = %q", gotPrincipal)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "NOT_AUTHORIZED",
			"message": "caller is not authorized",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.GetAsset(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "NOT_AUTHORIZED" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("://nope", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
