package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 自然键列与可变列。upsert 只覆盖可变列，键字段创建后不再变化。
var (
	naturalKeyColumns = []clause.Column{
		{Name: "symbol"},
		{Name: "expiration_date"},
		{Name: "strike"},
		{Name: "option_type"},
	}
	mutableColumns = []string{
		"bid", "ask", "last_price", "volume", "open_interest",
		"implied_volatility", "delta", "gamma", "theta", "vega",
		"updated_at",
	}
)

// ContractRepository domain.ContractRepository 的 Postgres 实现。
type ContractRepository struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewContractRepository 创建合约仓储
func NewContractRepository(db *gorm.DB, lockTimeout time.Duration) *ContractRepository {
	return &ContractRepository{db: db, lockTimeout: lockTimeout}
}

// WithChainLock 实现 domain.ContractRepository.WithChainLock
func (r *ContractRepository) WithChainLock(ctx context.Context, lockID int32, fn func(tx domain.ContractTx) error) error {
	return withLockedTx(ctx, r.db, lockID, r.lockTimeout, func(tx *gorm.DB) error {
		return fn(&contractTx{db: tx})
	})
}

// FindLive 实现 domain.ContractRepository.FindLive
func (r *ContractRepository) FindLive(ctx context.Context, symbol string, expiration *time.Time) ([]*domain.OptionContract, error) {
	query := r.db.WithContext(ctx).Where("symbol = ?", symbol)
	if expiration != nil {
		query = query.Where("expiration_date = ?", expiration.Format("2006-01-02"))
	}

	var contracts []*domain.OptionContract
	if err := query.Order("expiration_date, strike, option_type").Find(&contracts).Error; err != nil {
		return nil, fmt.Errorf("failed to query live contracts: %w", err)
	}
	return contracts, nil
}

// DeleteBySymbol 实现 domain.ContractRepository.DeleteBySymbol
func (r *ContractRepository) DeleteBySymbol(ctx context.Context, symbol string) error {
	if err := r.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&domain.OptionContract{}).Error; err != nil {
		return fmt.Errorf("failed to delete contracts for %s: %w", symbol, err)
	}
	return nil
}

// contractTx 持锁事务内的写操作
type contractTx struct {
	db *gorm.DB
}

// UpsertContracts 一条 INSERT … ON CONFLICT 语句写入一个批次
func (t *contractTx) UpsertContracts(ctx context.Context, contracts []*domain.OptionContract) error {
	if len(contracts) == 0 {
		return nil
	}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   naturalKeyColumns,
		DoUpdates: clause.AssignmentColumns(mutableColumns),
	}).Create(&contracts).Error
	if err != nil {
		return translateLockError(fmt.Errorf("failed to upsert contract batch: %w", err))
	}
	return nil
}
