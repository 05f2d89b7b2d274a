package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"ProvChain/deploy/migrations"
	xerrors "ProvChain/internal/errors"
)

// MySQLConfig 描述 MySQL 账本存储的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLStore 使用 MySQL 持久化账本状态。
type MySQLStore struct {
	db *sql.DB
}

const mysqlDuplicateEntry = 1062

// NewMySQLStore 建立连接池并应用内嵌的 SQL 迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// applyMigrations 按文件名顺序执行 deploy/migrations 中的 SQL 文件。
func (s *MySQLStore) applyMigrations(ctx context.Context) error {
	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移文件失败")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := migrations.Files.ReadFile(name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移文件失败", xerrors.WithMetadata("file", name))
		}
		for _, stmt := range strings.Split(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移失败", xerrors.WithMetadata("file", name))
			}
		}
	}
	return nil
}

// CreateModel 插入模型并在同一事务内累加模型计数。
func (s *MySQLStore) CreateModel(ctx context.Context, model *AIModel) error {
	if model == nil || model.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "model 不能为空")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	const stmt = `INSERT INTO ai_models (id, name, version, registered_by, confidence_level, is_active)
        VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, stmt,
		model.ID, model.Name, model.Version, string(model.RegisteredBy), model.ConfidenceLevel, model.IsActive,
	); err != nil {
		if isDuplicateEntry(err) {
			return ErrAlreadyRegistered
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入模型失败")
	}
	if err := bumpCounter(ctx, tx, "total_models"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// GetModel 查询模型，不存在时返回 ErrInvalidAIModel。
func (s *MySQLStore) GetModel(ctx context.Context, modelID string) (*AIModel, error) {
	const stmt = `SELECT id, name, version, registered_by, confidence_level, is_active
        FROM ai_models WHERE id = ?`
	var (
		model        AIModel
		registeredBy string
	)
	err := s.db.QueryRowContext(ctx, stmt, modelID).Scan(
		&model.ID, &model.Name, &model.Version, &registeredBy, &model.ConfidenceLevel, &model.IsActive,
	)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidAIModel
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询模型失败")
	}
	model.RegisteredBy = Principal(registeredBy)
	return &model, nil
}

// PutGrant 写入或覆盖授权记录。
func (s *MySQLStore) PutGrant(ctx context.Context, grant *VerifierGrant) error {
	if grant == nil || grant.Principal == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "grant 不能为空")
	}
	const stmt = `INSERT INTO verifier_grants (principal, is_authorized) VALUES (?, ?)
        ON DUPLICATE KEY UPDATE is_authorized = VALUES(is_authorized)`
	if _, err := s.db.ExecContext(ctx, stmt, string(grant.Principal), grant.Authorized); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入授权记录失败")
	}
	return nil
}

// GetGrant 查询授权记录，不存在时返回 (nil, nil)。
func (s *MySQLStore) GetGrant(ctx context.Context, principal Principal) (*VerifierGrant, error) {
	const stmt = `SELECT principal, is_authorized FROM verifier_grants WHERE principal = ?`
	var (
		grant VerifierGrant
		who   string
	)
	err := s.db.QueryRowContext(ctx, stmt, string(principal)).Scan(&who, &grant.Authorized)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询授权记录失败")
	}
	grant.Principal = Principal(who)
	return &grant, nil
}

// CreateRecord 插入溯源记录并在同一事务内累加资产计数。
func (s *MySQLStore) CreateRecord(ctx context.Context, record *ProvenanceRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	const stmt = `INSERT INTO provenance_records
        (asset_id, current_owner, creator, ai_model_id, authenticity_score, creation_height, last_verified, transfer_count, flagged)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, stmt,
		record.AssetID, string(record.CurrentOwner), string(record.Creator), record.AIModelID,
		record.AuthenticityScore, record.CreationHeight, record.LastVerified, record.TransferCount, record.Flagged,
	); err != nil {
		if isDuplicateEntry(err) {
			return ErrAlreadyRegistered
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入溯源记录失败")
	}
	if err := bumpCounter(ctx, tx, "total_assets"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// GetRecord 查询溯源记录。
func (s *MySQLStore) GetRecord(ctx context.Context, assetID uint64) (*ProvenanceRecord, error) {
	const stmt = `SELECT asset_id, current_owner, creator, ai_model_id, authenticity_score,
        creation_height, last_verified, transfer_count, flagged
        FROM provenance_records WHERE asset_id = ?`
	row := s.db.QueryRowContext(ctx, stmt, assetID)
	record, err := scanRecord(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNFTNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询溯源记录失败")
	}
	return record, nil
}

// UpdateScore 只替换分数与最近校验高度。
func (s *MySQLStore) UpdateScore(ctx context.Context, assetID uint64, score int, verifiedAt uint64) error {
	const stmt = `UPDATE provenance_records SET authenticity_score = ?, last_verified = ? WHERE asset_id = ?`
	result, err := s.db.ExecContext(ctx, stmt, score, verifiedAt, assetID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新分数失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新结果失败")
	}
	if affected == 0 {
		// MySQL 在值未变化时也返回 0，需要二次确认记录是否存在。
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM provenance_records WHERE asset_id = ?`, assetID).Scan(&exists)
		if stdErrors.Is(err, sql.ErrNoRows) {
			return ErrNFTNotFound
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认记录存在性失败")
		}
	}
	return nil
}

// CommitTransfer 在单个事务中追加历史并按 transfer_count 做乐观校验。
func (s *MySQLStore) CommitTransfer(ctx context.Context, record *ProvenanceRecord, entry *HistoryEntry) error {
	if record == nil || entry == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 与 entry 不能为空")
	}
	if record.AssetID != entry.AssetID || record.TransferCount != entry.TransferIndex+1 {
		return xerrors.New(xerrors.CodeInvalidArgument, "转移提交的记录与历史条目不一致")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	const insertStmt = `INSERT INTO history_entries
        (asset_id, transfer_index, from_owner, to_owner, height, price, verification_hash)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertStmt,
		entry.AssetID, entry.TransferIndex, string(entry.FromOwner), string(entry.ToOwner),
		entry.Height, entry.Price, entry.VerificationHash,
	); err != nil {
		if isDuplicateEntry(err) {
			return ErrTransferConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "追加历史条目失败")
	}

	const updateStmt = `UPDATE provenance_records
        SET current_owner = ?, authenticity_score = ?, transfer_count = ?, last_verified = ?
        WHERE asset_id = ? AND transfer_count = ?`
	result, err := tx.ExecContext(ctx, updateStmt,
		string(record.CurrentOwner), record.AuthenticityScore, record.TransferCount, record.LastVerified,
		record.AssetID, entry.TransferIndex,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新溯源记录失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新结果失败")
	}
	if affected != 1 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM provenance_records WHERE asset_id = ?`, record.AssetID).Scan(&exists)
		if stdErrors.Is(err, sql.ErrNoRows) {
			return ErrNFTNotFound
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认记录存在性失败")
		}
		return ErrTransferConflict
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交转移事务失败")
	}
	return nil
}

// GetHistoryEntry 查询指定转移序号的历史条目。
func (s *MySQLStore) GetHistoryEntry(ctx context.Context, assetID, transferIndex uint64) (*HistoryEntry, error) {
	const stmt = `SELECT asset_id, transfer_index, from_owner, to_owner, height, price, verification_hash
        FROM history_entries WHERE asset_id = ? AND transfer_index = ?`
	row := s.db.QueryRowContext(ctx, stmt, assetID, transferIndex)
	entry, err := scanEntry(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.CodeNotFound, "历史条目不存在")
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询历史条目失败")
	}
	return entry, nil
}

// ListHistory 按转移序号升序返回资产的全部历史。
func (s *MySQLStore) ListHistory(ctx context.Context, assetID uint64) ([]*HistoryEntry, error) {
	const stmt = `SELECT asset_id, transfer_index, from_owner, to_owner, height, price, verification_hash
        FROM history_entries WHERE asset_id = ? ORDER BY transfer_index ASC`
	rows, err := s.db.QueryContext(ctx, stmt, assetID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询历史失败")
	}
	defer rows.Close()

	results := make([]*HistoryEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析历史条目失败")
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历历史失败")
	}
	return results, nil
}

// Counters 返回注册总量统计。
func (s *MySQLStore) Counters(ctx context.Context) (Counters, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM ledger_counters`)
	if err != nil {
		return Counters{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询计数器失败")
	}
	defer rows.Close()

	var counters Counters
	for rows.Next() {
		var (
			name  string
			value uint64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return Counters{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析计数器失败")
		}
		switch name {
		case "total_assets":
			counters.TotalAssets = value
		case "total_models":
			counters.TotalModels = value
		}
	}
	if err := rows.Err(); err != nil {
		return Counters{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历计数器失败")
	}
	return counters, nil
}

// Close 释放连接池。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ProvenanceRecord, error) {
	var (
		record  ProvenanceRecord
		owner   string
		creator string
	)
	if err := row.Scan(
		&record.AssetID, &owner, &creator, &record.AIModelID, &record.AuthenticityScore,
		&record.CreationHeight, &record.LastVerified, &record.TransferCount, &record.Flagged,
	); err != nil {
		return nil, err
	}
	record.CurrentOwner = Principal(owner)
	record.Creator = Principal(creator)
	return &record, nil
}

func scanEntry(row rowScanner) (*HistoryEntry, error) {
	var (
		entry HistoryEntry
		from  string
		to    string
	)
	if err := row.Scan(
		&entry.AssetID, &entry.TransferIndex, &from, &to, &entry.Height, &entry.Price, &entry.VerificationHash,
	); err != nil {
		return nil, err
	}
	entry.FromOwner = Principal(from)
	entry.ToOwner = Principal(to)
	return &entry, nil
}

func bumpCounter(ctx context.Context, tx *sql.Tx, name string) error {
	const stmt = `INSERT INTO ledger_counters (name, value) VALUES (?, 1)
        ON DUPLICATE KEY UPDATE value = value + 1`
	if _, err := tx.ExecContext(ctx, stmt, name); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新计数器失败", xerrors.WithMetadata("counter", name))
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
