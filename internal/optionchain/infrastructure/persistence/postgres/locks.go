// Package postgres 提供合约与维护仓储的 Postgres GORM 实现。
// 互斥基于 pg_advisory_xact_lock：锁与事务同生命周期，事务提交或回滚时
// 自动释放，不存在显式解锁。
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"gorm.io/gorm"
)

const (
	pgDeadlockDetected = "40P01"
	pgLockNotAvailable = "55P03"
)

// withLockedTx 开启事务、设置锁等待超时、获取咨询锁后执行 fn。
// fn 返回错误时回滚。死锁与锁超时被翻译为 domain.ErrLockContention。
func withLockedTx(ctx context.Context, db *gorm.DB, lockID int32, lockTimeout time.Duration, fn func(tx *gorm.DB) error) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if lockTimeout > 0 {
			// SET 不接受绑定参数；超时值来自配置而非用户输入
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(lockID)).Error; err != nil {
			return err
		}
		return fn(tx)
	})
	return translateLockError(err)
}

// translateLockError 将 Postgres 的死锁/锁超时错误映射到可重试的领域错误
func translateLockError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgDeadlockDetected || pgErr.Code == pgLockNotAvailable {
			return fmt.Errorf("%w: %w", domain.ErrLockContention, err)
		}
	}
	return err
}
