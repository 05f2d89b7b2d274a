package ledger

import (
	"context"
	"sync"

	xerrors "ProvChain/internal/errors"
)

// MemoryStore 以内存方式保存账本状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu       sync.RWMutex
	models   map[string]*AIModel
	grants   map[Principal]*VerifierGrant
	records  map[uint64]*ProvenanceRecord
	history  map[uint64][]*HistoryEntry
	counters Counters
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models:  make(map[string]*AIModel),
		grants:  make(map[Principal]*VerifierGrant),
		records: make(map[uint64]*ProvenanceRecord),
		history: make(map[uint64][]*HistoryEntry),
	}
}

// CreateModel 实现 Store 接口。
func (m *MemoryStore) CreateModel(_ context.Context, model *AIModel) error {
	if model == nil || model.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "model 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.models[model.ID]; ok {
		return ErrAlreadyRegistered
	}
	m.models[model.ID] = cloneModel(model)
	m.counters.TotalModels++
	return nil
}

// GetModel 返回指定模型，不存在时返回 ErrInvalidAIModel。
func (m *MemoryStore) GetModel(_ context.Context, modelID string) (*AIModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[modelID]
	if !ok {
		return nil, ErrInvalidAIModel
	}
	return cloneModel(model), nil
}

// PutGrant 写入或覆盖授权记录，重复授权是幂等操作。
func (m *MemoryStore) PutGrant(_ context.Context, grant *VerifierGrant) error {
	if grant == nil || grant.Principal == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "grant 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *grant
	m.grants[grant.Principal] = &clone
	return nil
}

// GetGrant 返回授权记录，不存在时返回 (nil, nil)。
func (m *MemoryStore) GetGrant(_ context.Context, principal Principal) (*VerifierGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	grant, ok := m.grants[principal]
	if !ok {
		return nil, nil
	}
	clone := *grant
	return &clone, nil
}

// CreateRecord 插入新的溯源记录。
func (m *MemoryStore) CreateRecord(_ context.Context, record *ProvenanceRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.AssetID]; ok {
		return ErrAlreadyRegistered
	}
	m.records[record.AssetID] = cloneRecord(record)
	m.counters.TotalAssets++
	return nil
}

// GetRecord 返回溯源记录。
func (m *MemoryStore) GetRecord(_ context.Context, assetID uint64) (*ProvenanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[assetID]
	if !ok {
		return nil, ErrNFTNotFound
	}
	return cloneRecord(record), nil
}

// UpdateScore 只替换分数与最近校验高度，部分合并而非整体覆盖。
func (m *MemoryStore) UpdateScore(_ context.Context, assetID uint64, score int, verifiedAt uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[assetID]
	if !ok {
		return ErrNFTNotFound
	}
	record.AuthenticityScore = score
	record.LastVerified = verifiedAt
	return nil
}

// CommitTransfer 原子提交一次转移：历史追加与记录替换要么全部生效要么全部放弃。
func (m *MemoryStore) CommitTransfer(_ context.Context, record *ProvenanceRecord, entry *HistoryEntry) error {
	if record == nil || entry == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 与 entry 不能为空")
	}
	if record.AssetID != entry.AssetID || record.TransferCount != entry.TransferIndex+1 {
		return xerrors.New(xerrors.CodeInvalidArgument, "转移提交的记录与历史条目不一致")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[record.AssetID]
	if !ok {
		return ErrNFTNotFound
	}
	if current.TransferCount != entry.TransferIndex {
		return ErrTransferConflict
	}
	entries := m.history[record.AssetID]
	if uint64(len(entries)) != entry.TransferIndex {
		return ErrTransferConflict
	}
	m.history[record.AssetID] = append(entries, cloneEntry(entry))
	m.records[record.AssetID] = cloneRecord(record)
	return nil
}

// GetHistoryEntry 返回指定转移序号的历史条目。
func (m *MemoryStore) GetHistoryEntry(_ context.Context, assetID, transferIndex uint64) (*HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.history[assetID]
	if !ok || transferIndex >= uint64(len(entries)) {
		return nil, xerrors.New(xerrors.CodeNotFound, "历史条目不存在")
	}
	return cloneEntry(entries[transferIndex]), nil
}

// ListHistory 按转移序号升序返回资产的全部历史。
func (m *MemoryStore) ListHistory(_ context.Context, assetID uint64) ([]*HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.history[assetID]
	results := make([]*HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		results = append(results, cloneEntry(entry))
	}
	return results, nil
}

// Counters 返回注册总量统计。
func (m *MemoryStore) Counters(_ context.Context) (Counters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
