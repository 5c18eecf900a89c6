package domain

import (
	"context"
	"time"
)

// ContractTx 在一次持有 (symbol, expiration) 咨询锁的事务内可用的写操作。
type ContractTx interface {
	// UpsertContracts 以一条语句写入一个批次：新自然键插入，已存在的
	// 自然键只覆盖可变字段（bid..vega, updated_at），键字段不变。
	UpsertContracts(ctx context.Context, contracts []*OptionContract) error
}

// ContractRepository 存活合约仓储。
type ContractRepository interface {
	// WithChainLock 开启一个事务并获取 lockID 对应的咨询锁，锁随事务
	// 结束（提交或回滚）自动释放，没有显式解锁调用。fn 返回错误时事务回滚。
	WithChainLock(ctx context.Context, lockID int32, fn func(tx ContractTx) error) error
	// FindLive 查询某标的的存活合约，expiration 为 nil 时返回全部到期日。
	FindLive(ctx context.Context, symbol string, expiration *time.Time) ([]*OptionContract, error)
	// DeleteBySymbol 删除某标的的全部存活合约。
	DeleteBySymbol(ctx context.Context, symbol string) error
}

// MaintenanceTx 在一次持有全局维护锁的事务内可用的操作。
type MaintenanceTx interface {
	// AcquireLock 在当前事务内追加获取另一把咨询锁，与入口锁一样随事务
	// 结束自动释放。周归档触发器用它在自身锁之外再持有全局清理锁，
	// 保证与日常清理和手动归档串行。
	AcquireLock(ctx context.Context, lockID int32) error
	// FindExpiredBefore 查询到期日早于 cutoff 的存活合约。
	FindExpiredBefore(ctx context.Context, cutoff time.Time) ([]*OptionContract, error)
	// ArchiveContracts 将合约批量复制到历史表并从存活表删除，
	// 两步在同一事务内完成，行不会丢失也不会同时存在于两表之外。
	ArchiveContracts(ctx context.Context, contracts []*OptionContract, archivedAt time.Time) (int64, error)
	// PurgeStale 删除尚未到期（expiration_date >= notExpiredSince）但
	// updated_at 严格早于 staleCutoff 的行。条件在删除语句内再次求值，
	// 并发刷新过的行不会被误删。
	PurgeStale(ctx context.Context, staleCutoff, notExpiredSince time.Time) (int64, error)
	// LiveStats 返回存活行数与去重标的数。
	LiveStats(ctx context.Context) (rows int64, symbols int64, err error)
	// LastRun 读取运行记录，不存在时返回 (nil, nil)。
	LastRun(ctx context.Context, name string) (*MaintenanceRun, error)
	// RecordRun 写入或覆盖运行记录。
	RecordRun(ctx context.Context, run *MaintenanceRun) error
}

// MaintenanceRepository 生命周期维护仓储。
type MaintenanceRepository interface {
	// WithGlobalLock 语义同 ContractRepository.WithChainLock，锁键为全局维护锁。
	WithGlobalLock(ctx context.Context, lockID int32, fn func(tx MaintenanceTx) error) error
}
