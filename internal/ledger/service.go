package ledger

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ProvChain/internal/errors"
	"ProvChain/internal/observability/alerting"
	"ProvChain/pkg/logger"
)

// Clock 提供单调递增的全局时钟（区块高度）。
// 每次账本操作只读取一次高度，该值用于本次调用写入的全部时间戳。
type Clock interface {
	Height(ctx context.Context) (uint64, error)
}

// Service 负责账本操作的编排：权限门、分数重算、原子提交与事件投递。
type Service struct {
	store  Store
	clock  Clock
	events Publisher
	alerts alerting.Dispatcher
	owner  Principal
}

// ServiceOption 定义可选的 Service 配置。
type ServiceOption func(*Service)

// WithPublisher 设置账本事件发布器。
func WithPublisher(publisher Publisher) ServiceOption {
	return func(s *Service) {
		s.events = publisher
	}
}

// WithAlerts 设置告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) ServiceOption {
	return func(s *Service) {
		s.alerts = dispatcher
	}
}

// NewService 构造账本服务。owner 是唯一可以注册模型与授权校验者的主体。
func NewService(store Store, clock Clock, owner Principal, opts ...ServiceOption) *Service {
	svc := &Service{store: store, clock: clock, owner: owner}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// RegisterModelRequest 描述注册 AI 模型的输入。
type RegisterModelRequest struct {
	ModelID         string `json:"model_id"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	ConfidenceLevel int    `json:"confidence_level"`
}

// RegisterAssetRequest 描述注册资产的输入。
type RegisterAssetRequest struct {
	AssetID      uint64 `json:"asset_id"`
	ModelID      string `json:"model_id"`
	InitialScore int    `json:"initial_score"`
}

// TransferRequest 描述资产转移的输入。
type TransferRequest struct {
	AssetID          uint64    `json:"asset_id"`
	NewOwner         Principal `json:"new_owner"`
	Price            uint64    `json:"price"`
	VerificationHash string    `json:"verification_hash"`
}

// TransferResult 汇总一次成功转移产生的新状态。
type TransferResult struct {
	Record *ProvenanceRecord `json:"record"`
	Entry  *HistoryEntry     `json:"entry"`
}

// RegisterModel 注册一个受信任的 AI 模型，仅限注册所有者调用。
func (s *Service) RegisterModel(ctx context.Context, caller Principal, req RegisterModelRequest) (*AIModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if caller != s.owner {
		return nil, ErrNotAuthorized
	}
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" || len(modelID) > MaxModelIDLen {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "模型 ID 为空或超长")
	}
	if len(req.Name) > MaxModelNameLen || len(req.Version) > MaxModelVersionLen {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "模型名称或版本超长")
	}

	// 重复注册优先于置信度校验，已存在的模型 ID 永远返回 ErrAlreadyRegistered。
	if _, err := s.store.GetModel(ctx, modelID); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !stdErrors.Is(err, ErrInvalidAIModel) {
		return nil, err
	}
	if !ValidConfidence(req.ConfidenceLevel) {
		return nil, ErrInvalidAuthenticityScore
	}

	model := &AIModel{
		ID:              modelID,
		Name:            req.Name,
		Version:         req.Version,
		RegisteredBy:    caller,
		ConfidenceLevel: req.ConfidenceLevel,
		IsActive:        true,
	}
	if err := s.store.CreateModel(ctx, model); err != nil {
		s.alert(ctx, "register_model", err, 0, modelID)
		return nil, err
	}

	logger.Audit().Info("model_registered",
		slog.String("model_id", model.ID),
		slog.String("caller", string(caller)),
		slog.Int("confidence_level", model.ConfidenceLevel),
	)
	s.publish(ctx, Event{
		Kind:    EventModelRegistered,
		Actor:   caller,
		ModelID: model.ID,
		Score:   model.ConfidenceLevel,
	})
	return cloneModel(model), nil
}

// IsActiveModel 判断模型是否存在且处于激活状态，本身不视缺失为错误。
func (s *Service) IsActiveModel(ctx context.Context, modelID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	model, err := s.store.GetModel(ctx, modelID)
	if stdErrors.Is(err, ErrInvalidAIModel) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return model.IsActive, nil
}

// GetModel 返回模型元数据。
func (s *Service) GetModel(ctx context.Context, modelID string) (*AIModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.GetModel(ctx, modelID)
}

// AuthorizeVerifier 授权某主体手工修正分数，仅限注册所有者调用，重复授权幂等。
func (s *Service) AuthorizeVerifier(ctx context.Context, caller, verifier Principal) error {
	if err := s.ready(); err != nil {
		return err
	}
	if caller != s.owner {
		return ErrNotAuthorized
	}
	if verifier == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "verifier 不能为空")
	}
	if err := s.store.PutGrant(ctx, &VerifierGrant{Principal: verifier, Authorized: true}); err != nil {
		s.alert(ctx, "authorize_verifier", err, 0, "")
		return err
	}

	logger.Audit().Info("verifier_authorized",
		slog.String("verifier", string(verifier)),
		slog.String("caller", string(caller)),
	)
	s.publish(ctx, Event{
		Kind:    EventVerifierAuthorized,
		Actor:   caller,
		Subject: verifier,
	})
	return nil
}

// IsAuthorizedVerifier 判断主体是否持有有效授权，缺省为未授权。
func (s *Service) IsAuthorizedVerifier(ctx context.Context, principal Principal) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	grant, err := s.store.GetGrant(ctx, principal)
	if err != nil {
		return false, err
	}
	return grant != nil && grant.Authorized, nil
}

// RegisterAsset 创建资产的溯源记录，创建者即初始所有者。
func (s *Service) RegisterAsset(ctx context.Context, caller Principal, req RegisterAssetRequest) (*ProvenanceRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if caller == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "caller 不能为空")
	}

	if _, err := s.store.GetRecord(ctx, req.AssetID); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !stdErrors.Is(err, ErrNFTNotFound) {
		return nil, err
	}

	model, err := s.store.GetModel(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}
	if !model.IsActive {
		return nil, ErrInvalidAIModel
	}
	if !ValidScore(req.InitialScore) {
		return nil, ErrInvalidAuthenticityScore
	}

	height, err := s.height(ctx, "register_asset", req.AssetID)
	if err != nil {
		return nil, err
	}

	record := &ProvenanceRecord{
		AssetID:           req.AssetID,
		CurrentOwner:      caller,
		Creator:           caller,
		AIModelID:         model.ID,
		AuthenticityScore: req.InitialScore,
		CreationHeight:    height,
		LastVerified:      height,
		TransferCount:     0,
		Flagged:           false,
	}
	if err := s.store.CreateRecord(ctx, record); err != nil {
		s.alert(ctx, "register_asset", err, req.AssetID, model.ID)
		return nil, err
	}

	logger.Audit().Info("asset_registered",
		slog.Uint64("asset_id", record.AssetID),
		slog.String("model_id", record.AIModelID),
		slog.String("caller", string(caller)),
		slog.Int("initial_score", record.AuthenticityScore),
		slog.Uint64("height", height),
	)
	s.publish(ctx, Event{
		Kind:    EventAssetRegistered,
		Actor:   caller,
		AssetID: record.AssetID,
		ModelID: record.AIModelID,
		Score:   record.AuthenticityScore,
		Height:  height,
	})
	return cloneRecord(record), nil
}

// UpdateScore 由授权校验者手工修正真实性分数。
// 这是部分合并：除分数与最近校验高度外，记录的其余字段保持不变。
func (s *Service) UpdateScore(ctx context.Context, caller Principal, assetID uint64, newScore int) (*ProvenanceRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	record, err := s.store.GetRecord(ctx, assetID)
	if err != nil {
		return nil, err
	}
	authorized, err := s.IsAuthorizedVerifier(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, ErrNotAuthorized
	}
	if !ValidScore(newScore) {
		return nil, ErrInvalidAuthenticityScore
	}

	height, err := s.height(ctx, "update_score", assetID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateScore(ctx, assetID, newScore, height); err != nil {
		s.alert(ctx, "update_score", err, assetID, record.AIModelID)
		return nil, err
	}

	record.AuthenticityScore = newScore
	record.LastVerified = height

	logger.Audit().Info("score_updated",
		slog.Uint64("asset_id", assetID),
		slog.String("verifier", string(caller)),
		slog.Int("score", newScore),
		slog.Uint64("height", height),
	)
	s.publish(ctx, Event{
		Kind:    EventScoreUpdated,
		Actor:   caller,
		AssetID: assetID,
		ModelID: record.AIModelID,
		Score:   newScore,
		Height:  height,
	})
	return record, nil
}

// TransferAsset 执行资产转移，是账本中唯一的多步骤状态转移。
// 各道门依次校验，任何一道失败都不产生任何副作用：
//  1. 记录存在；2. 调用者为当前所有者；3. 记录未被标记；
//  4. 引用模型仍然存在且激活，并按 60/40 权重重算分数；
//  5. 重算分数不得低于 MinConfidence；6. 原子提交历史与新状态。
func (s *Service) TransferAsset(ctx context.Context, caller Principal, req TransferRequest) (*TransferResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	record, err := s.store.GetRecord(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if req.NewOwner == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "新所有者不能为空")
	}
	if len(req.VerificationHash) > MaxHashLen {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "验证哈希超长")
	}
	if caller != record.CurrentOwner {
		return nil, ErrNotAuthorized
	}
	if record.Flagged {
		return nil, xerrors.New(CodeTransferFailed, "资产已被标记，禁止转移")
	}

	model, err := s.store.GetModel(ctx, record.AIModelID)
	if err != nil {
		return nil, err
	}
	if !model.IsActive {
		return nil, ErrInvalidAIModel
	}
	updatedScore := RecalculatedScore(model.ConfidenceLevel, record.AuthenticityScore)
	if updatedScore < MinConfidence {
		return nil, xerrors.New(CodeTransferFailed, "重算分数低于可信下限，转移被拒绝")
	}

	height, err := s.height(ctx, "transfer_asset", req.AssetID)
	if err != nil {
		return nil, err
	}

	entry := &HistoryEntry{
		AssetID:          record.AssetID,
		TransferIndex:    record.TransferCount,
		FromOwner:        record.CurrentOwner,
		ToOwner:          req.NewOwner,
		Height:           height,
		Price:            req.Price,
		VerificationHash: req.VerificationHash,
	}
	updated := cloneRecord(record)
	updated.CurrentOwner = req.NewOwner
	updated.AuthenticityScore = updatedScore
	updated.TransferCount = record.TransferCount + 1
	updated.LastVerified = height

	if err := s.store.CommitTransfer(ctx, updated, entry); err != nil {
		s.alert(ctx, "transfer_asset", err, req.AssetID, record.AIModelID)
		return nil, err
	}

	logger.Audit().Info("asset_transferred",
		slog.Uint64("asset_id", record.AssetID),
		slog.String("from", string(entry.FromOwner)),
		slog.String("to", string(entry.ToOwner)),
		slog.Uint64("price", entry.Price),
		slog.Uint64("transfer_index", entry.TransferIndex),
		slog.Int("score", updatedScore),
		slog.Uint64("height", height),
	)
	s.publish(ctx, Event{
		Kind:          EventAssetTransferred,
		Actor:         caller,
		Subject:       req.NewOwner,
		AssetID:       record.AssetID,
		ModelID:       record.AIModelID,
		Score:         updatedScore,
		Price:         req.Price,
		TransferIndex: entry.TransferIndex,
		Height:        height,
	})
	return &TransferResult{Record: updated, Entry: entry}, nil
}

// GetRecord 返回资产的当前溯源状态。
func (s *Service) GetRecord(ctx context.Context, assetID uint64) (*ProvenanceRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.GetRecord(ctx, assetID)
}

// GetHistoryEntry 返回资产指定转移序号的单条历史记录。
func (s *Service) GetHistoryEntry(ctx context.Context, assetID, transferIndex uint64) (*HistoryEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetRecord(ctx, assetID); err != nil {
		return nil, err
	}
	return s.store.GetHistoryEntry(ctx, assetID, transferIndex)
}

// GetHistory 返回资产的完整转移历史。
func (s *Service) GetHistory(ctx context.Context, assetID uint64) ([]*HistoryEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetRecord(ctx, assetID); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, assetID)
}

// Stats 返回注册总量统计，仅用于对外报表。
func (s *Service) Stats(ctx context.Context) (Counters, error) {
	if err := s.ready(); err != nil {
		return Counters{}, err
	}
	return s.store.Counters(ctx)
}

// Close 释放底层资源。
func (s *Service) Close() error {
	var errs []error
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}

func (s *Service) ready() error {
	if s == nil || s.store == nil || s.clock == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "账本服务未初始化")
	}
	return nil
}

// height 读取一次全局时钟，本次调用的所有时间戳共用该值。
func (s *Service) height(ctx context.Context, operation string, assetID uint64) (uint64, error) {
	height, err := s.clock.Height(ctx)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeChainFailure, err, "读取区块高度失败")
		s.alert(ctx, operation, wrapped, assetID, "")
		return 0, wrapped
	}
	return height, nil
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	event.ID = uuid.NewString()
	if err := s.events.Publish(ctx, event); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodePublishFailure, err, "账本事件投递失败")
		logger.L().Error("事件投递失败",
			slog.String("kind", string(event.Kind)),
			slog.Uint64("asset_id", event.AssetID),
			slog.Any("error", err),
		)
		s.alert(ctx, "publish_event", wrapped, event.AssetID, event.ModelID)
	}
}

func (s *Service) alert(ctx context.Context, operation string, err error, assetID uint64, modelID string) {
	if s.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		Operation:  operation,
		AssetID:    assetID,
		ModelID:    modelID,
		OccurredAt: time.Now(),
	}
	if e, ok := xerrors.From(err); ok {
		event.Metadata = e.Metadata()
	}
	if notifyErr := s.alerts.Notify(ctx, event); notifyErr != nil {
		logger.L().Warn("告警投递失败", slog.Any("error", notifyErr))
	}
}
