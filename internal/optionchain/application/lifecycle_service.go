package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"github.com/quantfold/optionvault/pkg/metrics"
)

const (
	// 到期超过 7 天的合约移入历史表
	expiredGraceDays = 7
	// 超过 30 天未刷新且尚未到期的合约直接删除
	staleAfterDays = 30
)

// LifecycleService 负责到期合约归档与过期数据清理。
type LifecycleService struct {
	maintenance domain.MaintenanceRepository
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewLifecycleService 创建生命周期服务
func NewLifecycleService(maintenance domain.MaintenanceRepository, m *metrics.Metrics, logger *slog.Logger) *LifecycleService {
	return &LifecycleService{
		maintenance: maintenance,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// ArchiveExpiredAndCleanup 在持有全局清理锁的单个事务内执行归档与清理。
// 任一步失败回滚整个事务，错误由调用方处理。
func (s *LifecycleService) ArchiveExpiredAndCleanup(ctx context.Context) error {
	lockID := domain.DeriveLockID(domain.GlobalCleanupLockKey)
	return s.maintenance.WithGlobalLock(ctx, lockID, func(tx domain.MaintenanceTx) error {
		return s.runLocked(ctx, tx)
	})
}

// runLocked 在已持锁的事务内执行归档与清理的全部步骤。调度器复用此方法，
// 以便运行保护记录与维护工作落在同一事务里。
func (s *LifecycleService) runLocked(ctx context.Context, tx domain.MaintenanceTx) error {
	now := s.now()
	today := truncateToDay(now)
	expiredCutoff := today.AddDate(0, 0, -expiredGraceDays)
	staleCutoff := today.AddDate(0, 0, -staleAfterDays)

	// 归档：复制进历史表并从存活表删除，同一事务保证行不丢失不重复
	expired, err := tx.FindExpiredBefore(ctx, expiredCutoff)
	if err != nil {
		return err
	}
	var archived int64
	if len(expired) > 0 {
		archived, err = tx.ArchiveContracts(ctx, expired, now)
		if err != nil {
			return err
		}
	}

	// 清理：只删除未到期且 updated_at 严格早于阈值的行。条件在删除语句内
	// 求值，被并发摄取刷新过的行不会被删。
	purged, err := tx.PurgeStale(ctx, staleCutoff, today)
	if err != nil {
		return err
	}

	rows, symbols, err := tx.LiveStats(ctx)
	if err != nil {
		return err
	}

	s.metrics.ContractsArchived.Add(float64(archived))
	s.metrics.ContractsPurged.Add(float64(purged))
	s.metrics.LiveContracts.Set(float64(rows))
	s.metrics.LiveSymbols.Set(float64(symbols))

	s.logger.InfoContext(ctx, "lifecycle maintenance completed",
		"archived", archived,
		"purged", purged,
		"live_contracts", rows,
		"live_symbols", symbols,
	)
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
