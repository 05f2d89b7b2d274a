package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ProvChain/internal/auth"
	xerrors "ProvChain/internal/errors"
	"ProvChain/internal/ledger"
	"ProvChain/internal/observability/metrics"
)

// Server 负责暴露 REST 接口，供外部驱动溯源账本。
type Server struct {
	addr   string
	ledger *ledger.Service
	auth   *auth.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *ledger.Service, authSvc *auth.Service) *Server {
	return &Server{addr: addr, ledger: svc, auth: authSvc}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回完整路由，便于测试直接驱动。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	authenticate := s.auth.Middleware()
	route := func(pattern, name string, handler http.HandlerFunc) {
		mux.Handle(pattern, authenticate(s.instrument(name, handler)))
	}

	route("POST /api/v1/models", "register_model", s.handleRegisterModel)
	route("GET /api/v1/models/{id}", "get_model", s.handleGetModel)
	route("POST /api/v1/verifiers", "authorize_verifier", s.handleAuthorizeVerifier)
	route("GET /api/v1/verifiers/{principal}", "get_verifier", s.handleGetVerifier)
	route("POST /api/v1/assets", "register_asset", s.handleRegisterAsset)
	route("GET /api/v1/assets/{id}", "get_asset", s.handleGetAsset)
	route("POST /api/v1/assets/{id}/score", "update_score", s.handleUpdateScore)
	route("POST /api/v1/assets/{id}/transfer", "transfer_asset", s.handleTransferAsset)
	route("GET /api/v1/assets/{id}/history", "get_history", s.handleGetHistory)
	route("GET /api/v1/assets/{id}/history/{index}", "get_history_entry", s.handleGetHistoryEntry)
	route("GET /api/v1/stats", "stats", s.handleStats)

	mux.Handle("GET /metrics", metrics.Handler())
}

// handleRegisterModel 处理注册 AI 模型的请求。
func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req ledger.RegisterModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	model, err := s.ledger.RegisterModel(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, model)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model, err := s.ledger.GetModel(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAIModel) {
			writeJSONError(w, http.StatusNotFound, ledger.CodeInvalidAIModel, "模型不存在")
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// handleAuthorizeVerifier 处理校验者授权请求。
func (s *Server) handleAuthorizeVerifier(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Principal ledger.Principal `json:"principal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	if err := s.ledger.AuthorizeVerifier(r.Context(), caller, req.Principal); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": req.Principal, "authorized": true})
}

func (s *Server) handleGetVerifier(w http.ResponseWriter, r *http.Request) {
	principal := ledger.Principal(r.PathValue("principal"))
	authorized, err := s.ledger.IsAuthorizedVerifier(r.Context(), principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": principal, "authorized": authorized})
}

// handleRegisterAsset 处理资产注册请求。
func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req ledger.RegisterAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	record, err := s.ledger.RegisterAsset(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := assetIDFromPath(w, r)
	if !ok {
		return
	}
	record, err := s.ledger.GetRecord(r.Context(), assetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleUpdateScore 处理校验者的分数修正请求。
func (s *Server) handleUpdateScore(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	assetID, ok := assetIDFromPath(w, r)
	if !ok {
		return
	}
	var req struct {
		Score int `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	record, err := s.ledger.UpdateScore(r.Context(), caller, assetID, req.Score)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleTransferAsset 处理资产转移请求。
func (s *Server) handleTransferAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	assetID, ok := assetIDFromPath(w, r)
	if !ok {
		return
	}
	var req struct {
		NewOwner         ledger.Principal `json:"new_owner"`
		Price            uint64           `json:"price"`
		VerificationHash string           `json:"verification_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "请求体解析失败")
		return
	}
	result, err := s.ledger.TransferAsset(r.Context(), caller, ledger.TransferRequest{
		AssetID:          assetID,
		NewOwner:         req.NewOwner,
		Price:            req.Price,
		VerificationHash: req.VerificationHash,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	assetID, ok := assetIDFromPath(w, r)
	if !ok {
		return
	}
	entries, err := s.ledger.GetHistory(r.Context(), assetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	assetID, ok := assetIDFromPath(w, r)
	if !ok {
		return
	}
	transferIndex, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeBadRequest(w, "转移序号必须是非负整数")
		return
	}
	entry, err := s.ledger.GetHistoryEntry(r.Context(), assetID, transferIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counters, err := s.ledger.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

// caller 提取经过认证的调用方身份，缺失时返回 401。
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (ledger.Principal, bool) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == "" {
		writeJSONError(w, http.StatusUnauthorized, xerrors.CodeInvalidArgument, "缺少调用方身份")
		return "", false
	}
	return principal, true
}

// instrument 为每个处理器记录请求指标。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func assetIDFromPath(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	assetID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "资产 ID 必须是非负整数")
		return 0, false
	}
	return assetID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, message)
}

func writeJSONError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, map[string]string{"code": string(code), "message": message})
}

// writeError 将统一错误码映射为 HTTP 状态。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case ledger.CodeNotAuthorized:
		status = http.StatusForbidden
	case ledger.CodeNFTNotFound, ledger.CodeProvenanceNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case ledger.CodeAlreadyRegistered, ledger.CodeTransferConflict, xerrors.CodeConflict:
		status = http.StatusConflict
	case ledger.CodeInvalidScore, ledger.CodeInvalidAIModel, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case ledger.CodeTransferFailed:
		status = http.StatusUnprocessableEntity
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeJSONError(w, status, code, message)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
