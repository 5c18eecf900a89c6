package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const archiveBatchSize = 1000

// MaintenanceRepository domain.MaintenanceRepository 的 Postgres 实现。
type MaintenanceRepository struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewMaintenanceRepository 创建维护仓储
func NewMaintenanceRepository(db *gorm.DB, lockTimeout time.Duration) *MaintenanceRepository {
	return &MaintenanceRepository{db: db, lockTimeout: lockTimeout}
}

// WithGlobalLock 实现 domain.MaintenanceRepository.WithGlobalLock
func (r *MaintenanceRepository) WithGlobalLock(ctx context.Context, lockID int32, fn func(tx domain.MaintenanceTx) error) error {
	return withLockedTx(ctx, r.db, lockID, r.lockTimeout, func(tx *gorm.DB) error {
		return fn(&maintenanceTx{db: tx})
	})
}

// maintenanceTx 持全局锁事务内的维护操作
type maintenanceTx struct {
	db *gorm.DB
}

// AcquireLock 在当前事务内获取第二把咨询锁，随事务结束自动释放
func (t *maintenanceTx) AcquireLock(ctx context.Context, lockID int32) error {
	err := t.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", int64(lockID)).Error
	return translateLockError(err)
}

// FindExpiredBefore 查询到期日早于 cutoff 的存活合约
func (t *maintenanceTx) FindExpiredBefore(ctx context.Context, cutoff time.Time) ([]*domain.OptionContract, error) {
	var contracts []*domain.OptionContract
	err := t.db.WithContext(ctx).
		Where("expiration_date < ?", cutoff.Format("2006-01-02")).
		Find(&contracts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expired contracts: %w", err)
	}
	return contracts, nil
}

// ArchiveContracts 批量写入历史表并按主键删除存活行，两步共享同一事务
func (t *maintenanceTx) ArchiveContracts(ctx context.Context, contracts []*domain.OptionContract, archivedAt time.Time) (int64, error) {
	if len(contracts) == 0 {
		return 0, nil
	}

	historical := make([]*domain.HistoricalOptionContract, 0, len(contracts))
	ids := make([]uint, 0, len(contracts))
	for _, c := range contracts {
		historical = append(historical, domain.NewHistoricalContract(c, archivedAt))
		ids = append(ids, c.ID)
	}

	if err := t.db.WithContext(ctx).CreateInBatches(historical, archiveBatchSize).Error; err != nil {
		return 0, fmt.Errorf("failed to insert historical contracts: %w", err)
	}

	res := t.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.OptionContract{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete archived contracts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeStale 删除未到期但长期未刷新的行，条件在语句内求值
func (t *maintenanceTx) PurgeStale(ctx context.Context, staleCutoff, notExpiredSince time.Time) (int64, error) {
	res := t.db.WithContext(ctx).
		Where("updated_at < ? AND expiration_date >= ?", staleCutoff, notExpiredSince.Format("2006-01-02")).
		Delete(&domain.OptionContract{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge stale contracts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// LiveStats 返回存活行数与去重标的数
func (t *maintenanceTx) LiveStats(ctx context.Context) (int64, int64, error) {
	var rows int64
	if err := t.db.WithContext(ctx).Model(&domain.OptionContract{}).Count(&rows).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count live contracts: %w", err)
	}

	var symbols int64
	err := t.db.WithContext(ctx).Model(&domain.OptionContract{}).
		Distinct("symbol").Count(&symbols).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count live symbols: %w", err)
	}
	return rows, symbols, nil
}

// LastRun 读取运行记录，不存在时返回 (nil, nil)
func (t *maintenanceTx) LastRun(ctx context.Context, name string) (*domain.MaintenanceRun, error) {
	var run domain.MaintenanceRun
	if err := t.db.WithContext(ctx).Where("name = ?", name).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read maintenance run %s: %w", name, err)
	}
	return &run, nil
}

// RecordRun 写入或覆盖运行记录
func (t *maintenanceTx) RecordRun(ctx context.Context, run *domain.MaintenanceRun) error {
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(run).Error
	if err != nil {
		return fmt.Errorf("failed to record maintenance run %s: %w", run.Name, err)
	}
	return nil
}
