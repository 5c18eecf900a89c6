package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
)

const jitterMax = 100 * time.Millisecond

// retryPolicy 针对锁冲突的有界指数退避重试。两次近乎同时的同
// (symbol, expiration) 刷新会合法地竞争同一把咨询锁，数据库可能报告
// 死锁而不是排队等待；随机抖动避免双方按同一节奏反复相撞。
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration

	// 测试注入点
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

func newRetryPolicy(maxRetries int, baseDelay time.Duration) retryPolicy {
	return retryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepCtx,
		jitter: func() time.Duration {
			return time.Duration(rand.Int64N(int64(jitterMax)))
		},
	}
}

// run 执行整个工作单元，锁冲突时回退后从头重试（重新获取锁、重跑全部
// 批次，前一次的部分写入已随事务回滚）。非锁冲突错误原样传播；
// 重试耗尽后返回 ErrRetriesExhausted。
func (p retryPolicy) run(ctx context.Context, work func() error) error {
	var err error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		err = work()
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrLockContention) {
			return err
		}
		if attempt == p.maxRetries-1 {
			break
		}

		delay := p.baseDelay*(1<<attempt) + p.jitter()
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, p.maxRetries, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
