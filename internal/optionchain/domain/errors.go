package domain

import "errors"

var (
	// ErrLockContention 咨询锁冲突（死锁或等待超时），可在有限次数内重试
	ErrLockContention = errors.New("advisory lock contention")
	// ErrRetriesExhausted 重试次数耗尽，该 (symbol, expiration) 本轮更新被放弃
	ErrRetriesExhausted = errors.New("retries exhausted")
)
