package provchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// devPrincipalHeader declares the caller identity against servers running
// with authentication disabled. Local development only.
const devPrincipalHeader = "X-Provchain-Principal"

// Client wraps the HTTP interactions with the ProvChain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu           sync.RWMutex
	apiKey       string
	devPrincipal string
}

// Model mirrors a registered AI attribution model.
type Model struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	RegisteredBy    string `json:"registered_by"`
	ConfidenceLevel int    `json:"confidence_level"`
	IsActive        bool   `json:"is_active"`
}

// Record mirrors the current provenance state of an asset.
type Record struct {
	AssetID           uint64 `json:"asset_id"`
	CurrentOwner      string `json:"current_owner"`
	Creator           string `json:"creator"`
	AIModelID         string `json:"ai_model_id"`
	AuthenticityScore int    `json:"authenticity_score"`
	CreationHeight    uint64 `json:"creation_height"`
	LastVerified      uint64 `json:"last_verified"`
	TransferCount     uint64 `json:"transfer_count"`
	Flagged           bool   `json:"flagged"`
}

// HistoryEntry mirrors one immutable transfer record.
type HistoryEntry struct {
	AssetID          uint64 `json:"asset_id"`
	TransferIndex    uint64 `json:"transfer_index"`
	FromOwner        string `json:"from_owner"`
	ToOwner          string `json:"to_owner"`
	Height           uint64 `json:"height"`
	Price            uint64 `json:"price"`
	VerificationHash string `json:"verification_hash"`
}

// TransferResult bundles the new record and the history entry written by a
// successful transfer.
type TransferResult struct {
	Record *Record       `json:"record"`
	Entry  *HistoryEntry `json:"entry"`
}

// VerifierStatus reports whether a principal holds a verifier grant.
type VerifierStatus struct {
	Principal  string `json:"principal"`
	Authorized bool   `json:"authorized"`
}

// Stats reports registration totals.
type Stats struct {
	TotalAssets uint64 `json:"total_assets"`
	TotalModels uint64 `json:"total_models"`
}

// RegisterModelRequest is the payload for registering an AI model.
type RegisterModelRequest struct {
	ModelID         string `json:"model_id"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	ConfidenceLevel int    `json:"confidence_level"`
}

// RegisterAssetRequest is the payload for creating a provenance record.
type RegisterAssetRequest struct {
	AssetID      uint64 `json:"asset_id"`
	ModelID      string `json:"model_id"`
	InitialScore int    `json:"initial_score"`
}

// TransferRequest is the payload for transferring asset ownership.
type TransferRequest struct {
	NewOwner         string `json:"new_owner"`
	Price            uint64 `json:"price"`
	VerificationHash string `json:"verification_hash"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("provchain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provchain api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ProvChain API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey stores the bearer key used against servers with authentication
// enabled.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// SetDevPrincipal stores the identity sent via the development header when
// the server runs with authentication disabled.
func (c *Client) SetDevPrincipal(principal string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devPrincipal = principal
}

// RegisterModel registers a trusted AI model. Owner only.
func (c *Client) RegisterModel(ctx context.Context, req RegisterModelRequest) (*Model, error) {
	var model Model
	if err := c.post(ctx, "/api/v1/models", req, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// GetModel fetches model metadata by identifier.
func (c *Client) GetModel(ctx context.Context, modelID string) (*Model, error) {
	var model Model
	if err := c.get(ctx, "/api/v1/models/"+url.PathEscape(modelID), &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// AuthorizeVerifier grants score-correction rights to a principal. Owner only.
func (c *Client) AuthorizeVerifier(ctx context.Context, principal string) error {
	payload := map[string]string{"principal": principal}
	return c.post(ctx, "/api/v1/verifiers", payload, nil)
}

// GetVerifier reports the grant status of a principal.
func (c *Client) GetVerifier(ctx context.Context, principal string) (*VerifierStatus, error) {
	var status VerifierStatus
	if err := c.get(ctx, "/api/v1/verifiers/"+url.PathEscape(principal), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RegisterAsset creates the provenance record for a new asset. The caller
// becomes both creator and initial owner.
func (c *Client) RegisterAsset(ctx context.Context, req RegisterAssetRequest) (*Record, error) {
	var record Record
	if err := c.post(ctx, "/api/v1/assets", req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetAsset fetches the current provenance record of an asset.
func (c *Client) GetAsset(ctx context.Context, assetID uint64) (*Record, error) {
	var record Record
	if err := c.get(ctx, assetPath(assetID, ""), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateScore corrects the authenticity score of an asset. Verifiers only.
func (c *Client) UpdateScore(ctx context.Context, assetID uint64, score int) (*Record, error) {
	var record Record
	payload := map[string]int{"score": score}
	if err := c.post(ctx, assetPath(assetID, "score"), payload, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// TransferAsset moves ownership to a new principal. Current owner only.
func (c *Client) TransferAsset(ctx context.Context, assetID uint64, req TransferRequest) (*TransferResult, error) {
	var result TransferResult
	if err := c.post(ctx, assetPath(assetID, "transfer"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetHistory fetches the complete transfer history of an asset in transfer
// order.
func (c *Client) GetHistory(ctx context.Context, assetID uint64) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	if err := c.get(ctx, assetPath(assetID, "history"), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetHistoryEntry fetches a single transfer record by its index.
func (c *Client) GetHistoryEntry(ctx context.Context, assetID, transferIndex uint64) (*HistoryEntry, error) {
	var entry HistoryEntry
	endpoint := assetPath(assetID, "history") + "/" + strconv.FormatUint(transferIndex, 10)
	if err := c.get(ctx, endpoint, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetStats fetches registration totals.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func assetPath(assetID uint64, suffix string) string {
	p := "/api/v1/assets/" + strconv.FormatUint(assetID, 10)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	apiKey, devPrincipal := c.apiKey, c.devPrincipal
	c.mu.RUnlock()
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	} else if devPrincipal != "" {
		req.Header.Set(devPrincipalHeader, devPrincipal)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
