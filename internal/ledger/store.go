package ledger

import "context"

// Store 抽象了溯源账本的持久化接口。
//
// 实现必须保证每个方法整体原子：任何校验失败都不能留下可观察的副作用。
// CommitTransfer 以 entry.TransferIndex 对记录当前的 TransferCount 做
// 乐观校验（compare-and-swap），校验失败返回 ErrTransferConflict，
// 历史键 (AssetID, TransferIndex) 一经写入不再覆盖。
type Store interface {
	CreateModel(ctx context.Context, model *AIModel) error
	GetModel(ctx context.Context, modelID string) (*AIModel, error)

	PutGrant(ctx context.Context, grant *VerifierGrant) error
	GetGrant(ctx context.Context, principal Principal) (*VerifierGrant, error)

	CreateRecord(ctx context.Context, record *ProvenanceRecord) error
	GetRecord(ctx context.Context, assetID uint64) (*ProvenanceRecord, error)
	// UpdateScore 只替换分数与最近校验高度，其余字段保持不变。
	UpdateScore(ctx context.Context, assetID uint64, score int, verifiedAt uint64) error
	// CommitTransfer 在同一事务中追加历史条目并替换记录状态。
	CommitTransfer(ctx context.Context, record *ProvenanceRecord, entry *HistoryEntry) error

	GetHistoryEntry(ctx context.Context, assetID, transferIndex uint64) (*HistoryEntry, error)
	ListHistory(ctx context.Context, assetID uint64) ([]*HistoryEntry, error)

	Counters(ctx context.Context) (Counters, error)
	Close() error
}
