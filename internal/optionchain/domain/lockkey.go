package domain

import (
	"hash/fnv"
	"time"
)

const (
	// GlobalCleanupLockKey 生命周期清理的全局锁键
	GlobalCleanupLockKey = "global_cleanup_lock"
	// SaturdayArchivalLockKey 周六归档的全局锁键
	SaturdayArchivalLockKey = "saturday_archival_lock"
)

// DeriveLockID 将字符串键确定性地映射为非负 int32 咨询锁令牌。
// 使用 FNV-1a：跨进程重启稳定、无 I/O。不同字符串可能映射到同一令牌，
// 哈希冲突只会让无关的键互相串行化，不会破坏互斥。
func DeriveLockID(key string) int32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int32(h.Sum32() & 0x7fffffff)
}

// ChainLockKey 单个 (symbol, expiration) 写串行化域的锁键
func ChainLockKey(symbol string, expiration time.Time) string {
	return symbol + "_" + expiration.Format("2006-01-02")
}
