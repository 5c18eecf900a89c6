package application

import (
	"context"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
)

// batchSizeFor 按记录总数选择批次大小，权衡往返次数与单事务持锁时长。
func batchSizeFor(total int) int {
	switch {
	case total > 10000:
		return 1000
	case total < 1000:
		return 100
	default:
		return 500
	}
}

// writeBatches 将记录切成固定大小的批次并逐批 upsert，返回写入行数。
// 任一批次失败使整个调用失败，并导致外层分组事务回滚。
func writeBatches(ctx context.Context, tx domain.ContractTx, records []*domain.OptionContract) (int, error) {
	size := batchSizeFor(len(records))

	written := 0
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		if err := tx.UpsertContracts(ctx, records[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}
