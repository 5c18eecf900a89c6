package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
)

const staleCleanupInterval = 24 * time.Hour

// MaintenanceScheduler 触发生命周期维护的两个独立守卫：滚动 24 小时的
// 日常清理，和周六 08:00–08:59 的每周归档。运行记录持久化在
// maintenance_runs 表里，并与维护工作共用同一把锁、同一个事务，
// 因此进程重启和多实例并发都不会导致多跑。
type MaintenanceScheduler struct {
	lifecycle   *LifecycleService
	maintenance domain.MaintenanceRepository
	logger      *slog.Logger
	tick        time.Duration
	now         func() time.Time
}

// NewMaintenanceScheduler 创建维护调度器
func NewMaintenanceScheduler(
	lifecycle *LifecycleService,
	maintenance domain.MaintenanceRepository,
	logger *slog.Logger,
	tick time.Duration,
) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		lifecycle:   lifecycle,
		maintenance: maintenance,
		logger:      logger,
		tick:        tick,
		now:         time.Now,
	}
}

// Start 周期性检查两个触发器，直到 ctx 取消。
func (s *MaintenanceScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("maintenance scheduler started", "tick", s.tick)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.RunDailyCleanupIfDue(ctx)
			s.RunWeeklyArchivalIfDue(ctx)
		}
	}
}

// RunDailyCleanupIfDue 每滚动 24 小时至多运行一次生命周期维护。
// 维护失败只记录日志，绝不冒泡到请求路径。
func (s *MaintenanceScheduler) RunDailyCleanupIfDue(ctx context.Context) {
	if err := s.runDaily(ctx); err != nil {
		s.logger.ErrorContext(ctx, "daily cleanup failed", "error", err)
	}
}

func (s *MaintenanceScheduler) runDaily(ctx context.Context) error {
	now := s.now()
	lockID := domain.DeriveLockID(domain.GlobalCleanupLockKey)

	return s.maintenance.WithGlobalLock(ctx, lockID, func(tx domain.MaintenanceTx) error {
		last, err := tx.LastRun(ctx, domain.RunDailyCleanup)
		if err != nil {
			return err
		}
		if last != nil && now.Sub(last.LastRunAt) < staleCleanupInterval {
			return nil
		}

		if err := s.lifecycle.runLocked(ctx, tx); err != nil {
			return err
		}
		// 运行记录随维护工作一起提交，失败时一起回滚
		return tx.RecordRun(ctx, &domain.MaintenanceRun{
			Name:      domain.RunDailyCleanup,
			LastRunAt: now,
		})
	})
}

// RunWeeklyArchivalIfDue 仅在本地时间周六 08:00:00–08:59:59 触发，
// 同一周键至多运行一次。入口使用独立的归档锁键，实际执行前再获取
// 全局清理锁。
func (s *MaintenanceScheduler) RunWeeklyArchivalIfDue(ctx context.Context) {
	now := s.now()
	if now.Weekday() != time.Saturday || now.Hour() != 8 {
		return
	}

	if err := s.runWeekly(ctx, now); err != nil {
		s.logger.ErrorContext(ctx, "weekly archival failed", "error", err)
	}
}

func (s *MaintenanceScheduler) runWeekly(ctx context.Context, now time.Time) error {
	weekKey := archivalWeekKey(now)
	lockID := domain.DeriveLockID(domain.SaturdayArchivalLockKey)

	return s.maintenance.WithGlobalLock(ctx, lockID, func(tx domain.MaintenanceTx) error {
		last, err := tx.LastRun(ctx, domain.RunWeeklyArchival)
		if err != nil {
			return err
		}
		if last != nil && last.WeekKey == weekKey {
			return nil
		}

		// 维护工作本身始终在全局清理锁下执行，周归档与日常清理、
		// 手动归档互斥。锁序固定：先归档锁，后清理锁。
		if err := tx.AcquireLock(ctx, domain.DeriveLockID(domain.GlobalCleanupLockKey)); err != nil {
			return err
		}

		if err := s.lifecycle.runLocked(ctx, tx); err != nil {
			return err
		}
		return tx.RecordRun(ctx, &domain.MaintenanceRun{
			Name:      domain.RunWeeklyArchival,
			LastRunAt: now,
			WeekKey:   weekKey,
		})
	})
}

// archivalWeekKey 年份 + ISO 周号 + 月份
func archivalWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d-%02d", year, week, int(t.Month()))
}
