package ledger

import (
	xerrors "ProvChain/internal/errors"
)

// Principal 表示链上经过认证的调用方身份。
type Principal string

// 核心常量。MinConfidence 同时充当模型注册下限与转移后真实性分数下限，
// 两处语义共用同一常量，不拆分为独立阈值。
const (
	MinConfidence = 70
	MaxScore      = 100

	// 转移时重新计算分数的固定权重：模型置信度 60%，历史分数 40%。
	modelWeight = 60
	priorWeight = 40

	MaxModelIDLen      = 64
	MaxModelNameLen    = 128
	MaxModelVersionLen = 32
	MaxHashLen         = 64
)

// AIModel 描述一个受信任的 AI 归因模型。
type AIModel struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Version         string    `json:"version"`
	RegisteredBy    Principal `json:"registered_by"`
	ConfidenceLevel int       `json:"confidence_level"`
	IsActive        bool      `json:"is_active"`
}

// VerifierGrant 记录某个主体是否被授权手工修正真实性分数。
type VerifierGrant struct {
	Principal  Principal `json:"principal"`
	Authorized bool      `json:"authorized"`
}

// ProvenanceRecord 保存资产的当前溯源状态。
// Creator 与 CreationHeight 一经写入不再变化。
type ProvenanceRecord struct {
	AssetID           uint64    `json:"asset_id"`
	CurrentOwner      Principal `json:"current_owner"`
	Creator           Principal `json:"creator"`
	AIModelID         string    `json:"ai_model_id"`
	AuthenticityScore int       `json:"authenticity_score"`
	CreationHeight    uint64    `json:"creation_height"`
	LastVerified      uint64    `json:"last_verified"`
	TransferCount     uint64    `json:"transfer_count"`
	Flagged           bool      `json:"flagged"`
}

// HistoryEntry 是一次成功转移的不可变记录，
// 以 (AssetID, TransferIndex) 复合键标识，每个键只消费一次。
type HistoryEntry struct {
	AssetID          uint64    `json:"asset_id"`
	TransferIndex    uint64    `json:"transfer_index"`
	FromOwner        Principal `json:"from_owner"`
	ToOwner          Principal `json:"to_owner"`
	Height           uint64    `json:"height"`
	Price            uint64    `json:"price"`
	VerificationHash string    `json:"verification_hash"`
}

// Counters 统计已注册的资产与模型总量，仅用于对外报表。
type Counters struct {
	TotalAssets uint64 `json:"total_assets"`
	TotalModels uint64 `json:"total_models"`
}

var (
	// ErrNotAuthorized 表示调用方缺少所需角色。
	ErrNotAuthorized = xerrors.New(CodeNotAuthorized, "caller is not authorized")
	// ErrNFTNotFound 表示引用的资产不存在。
	ErrNFTNotFound = xerrors.New(CodeNFTNotFound, "asset not found")
	// ErrAlreadyRegistered 表示模型或资产重复注册。
	ErrAlreadyRegistered = xerrors.New(CodeAlreadyRegistered, "already registered", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvalidAuthenticityScore 表示分数或置信度越界。
	ErrInvalidAuthenticityScore = xerrors.New(CodeInvalidScore, "invalid authenticity score")
	// ErrTransferFailed 表示转移被防欺诈门槛拦截。
	ErrTransferFailed = xerrors.New(CodeTransferFailed, "transfer blocked by fraud gate", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvalidAIModel 表示引用的模型不存在或未激活。
	ErrInvalidAIModel = xerrors.New(CodeInvalidAIModel, "referenced AI model is missing or inactive")
	// ErrProvenanceNotFound 为扩展预留的查找错误，当前没有任何操作会触发它。
	ErrProvenanceNotFound = xerrors.New(CodeProvenanceNotFound, "provenance not found")
	// ErrTransferConflict 表示乐观并发提交失败，调用方可以重试。
	ErrTransferConflict = xerrors.New(CodeTransferConflict, "transfer commit conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeNotAuthorized      xerrors.Code = "NOT_AUTHORIZED"
	CodeNFTNotFound        xerrors.Code = "NFT_NOT_FOUND"
	CodeAlreadyRegistered  xerrors.Code = "ALREADY_REGISTERED"
	CodeInvalidScore       xerrors.Code = "INVALID_AUTHENTICITY_SCORE"
	CodeTransferFailed     xerrors.Code = "TRANSFER_FAILED"
	CodeInvalidAIModel     xerrors.Code = "INVALID_AI_MODEL"
	CodeProvenanceNotFound xerrors.Code = "PROVENANCE_NOT_FOUND"
	CodeTransferConflict   xerrors.Code = "TRANSFER_CONFLICT"
)

func init() {
	xerrors.Register(CodeNotAuthorized, xerrors.Attributes{
		Message:   "caller is not authorized",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNFTNotFound, xerrors.Attributes{
		Message:   "asset not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAlreadyRegistered, xerrors.Attributes{
		Message:   "already registered",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidScore, xerrors.Attributes{
		Message:   "invalid authenticity score",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTransferFailed, xerrors.Attributes{
		Message:   "transfer blocked by fraud gate",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidAIModel, xerrors.Attributes{
		Message:   "referenced AI model is missing or inactive",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProvenanceNotFound, xerrors.Attributes{
		Message:   "provenance not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTransferConflict, xerrors.Attributes{
		Message:   "transfer commit conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// RecalculatedScore 按固定 60/40 权重融合模型置信度与历史分数，
// 使用整数截断除法。
func RecalculatedScore(confidence, prior int) int {
	return (confidence*modelWeight + prior*priorWeight) / 100
}

// ValidScore 检查分数是否落在 [0, MaxScore] 区间。
func ValidScore(score int) bool {
	return score >= 0 && score <= MaxScore
}

// ValidConfidence 检查模型置信度是否满足注册下限。
func ValidConfidence(confidence int) bool {
	return confidence >= MinConfidence && confidence <= MaxScore
}

func cloneModel(model *AIModel) *AIModel {
	if model == nil {
		return nil
	}
	clone := *model
	return &clone
}

func cloneRecord(record *ProvenanceRecord) *ProvenanceRecord {
	if record == nil {
		return nil
	}
	clone := *record
	return &clone
}

func cloneEntry(entry *HistoryEntry) *HistoryEntry {
	if entry == nil {
		return nil
	}
	clone := *entry
	return &clone
}
