package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"github.com/quantfold/optionvault/pkg/metrics"
)

// ChainCache 存活链的读缓存。写路径只负责失效。
type ChainCache interface {
	Get(ctx context.Context, symbol string) ([]*domain.OptionContract, error)
	Set(ctx context.Context, symbol string, contracts []*domain.OptionContract) error
	Invalidate(ctx context.Context, symbol string) error
}

// GroupResult 单个 (symbol, expiration) 分组的处理结果。
type GroupResult struct {
	ExpirationDate string `json:"expiration_date"`
	Contracts      int    `json:"contracts"`
	Error          string `json:"error,omitempty"`
}

// IngestReport 一次摄取调用的分组结果汇总。已提交的分组保持提交，
// 失败的分组在下一轮刷新时自然重试。
type IngestReport struct {
	Symbol   string        `json:"symbol"`
	Received int           `json:"received"`
	Written  int           `json:"written"`
	Failed   int           `json:"failed"`
	Groups   []GroupResult `json:"groups"`
}

// HasFailures 是否存在失败分组
func (r *IngestReport) HasFailures() bool { return r.Failed > 0 }

// IngestError 部分或全部分组失败。
type IngestError struct {
	Symbol    string
	Report    *IngestReport
	groupErrs []error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %d of %d expiration groups failed",
		e.Symbol, e.Report.Failed, len(e.Report.Groups))
}

// Unwrap 暴露各分组的底层错误，供 errors.Is/As 判定
func (e *IngestError) Unwrap() []error { return e.groupErrs }

// IngestService 摄取协调器：按 (symbol, expiration) 串行化写入。
type IngestService struct {
	contracts domain.ContractRepository
	cache     ChainCache
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	retry     retryPolicy
	now       func() time.Time
}

// NewIngestService 创建摄取服务
func NewIngestService(
	contracts domain.ContractRepository,
	cache ChainCache,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	maxRetries int,
	baseDelay time.Duration,
) *IngestService {
	return &IngestService{
		contracts: contracts,
		cache:     cache,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		retry:     newRetryPolicy(maxRetries, baseDelay),
		now:       time.Now,
	}
}

// Ingest 将一批合约按到期日分组，逐组在持有咨询锁的事务内 upsert。
// 分组之间相互独立：一组失败不回滚已提交的组，也不阻止后续组处理；
// 所有失败汇总在返回的 IngestError 里。空列表是 no-op。
func (s *IngestService) Ingest(ctx context.Context, symbol string, contracts []*domain.OptionContract) (*IngestReport, error) {
	report := &IngestReport{Symbol: symbol, Received: len(contracts)}
	if len(contracts) == 0 {
		s.logger.DebugContext(ctx, "ingest skipped, empty contract list", "symbol", symbol)
		return report, nil
	}

	groups := groupByExpiration(contracts)
	dates := make([]string, 0, len(groups))
	for date := range groups {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	var groupErrs []error
	for _, date := range dates {
		group := groups[date]
		written, err := s.ingestGroup(ctx, symbol, group)

		result := GroupResult{ExpirationDate: date, Contracts: written}
		if err != nil {
			result.Error = err.Error()
			report.Failed++
			groupErrs = append(groupErrs, fmt.Errorf("expiration %s: %w", date, err))
			s.metrics.IngestGroupsTotal.WithLabelValues("error").Inc()
			s.logger.ErrorContext(ctx, "expiration group failed",
				"symbol", symbol, "expiration", date, "contracts", len(group), "error", err)
		} else {
			report.Written += written
			s.metrics.IngestGroupsTotal.WithLabelValues("ok").Inc()
			s.metrics.ContractsUpserted.Add(float64(written))
			s.publishChainUpdated(ctx, symbol, date, written)
		}
		report.Groups = append(report.Groups, result)
	}

	if report.Written > 0 {
		s.invalidateCache(ctx, symbol)
	}

	if len(groupErrs) > 0 {
		return report, &IngestError{Symbol: symbol, Report: report, groupErrs: groupErrs}
	}

	s.logger.InfoContext(ctx, "ingest completed",
		"symbol", symbol, "contracts", report.Written, "groups", len(report.Groups))
	return report, nil
}

// ingestGroup 处理一个到期日分组：锁冲突时整个工作单元从头重试。
// 同一自然键在组内出现多次时只保留最后一条，避免单条 upsert 语句
// 两次命中同一行。
func (s *IngestService) ingestGroup(ctx context.Context, symbol string, group []*domain.OptionContract) (int, error) {
	group = dedupeByNaturalKey(group)
	lockID := domain.DeriveLockID(domain.ChainLockKey(symbol, group[0].ExpirationDate))

	written := 0
	err := s.retry.run(ctx, func() error {
		start := time.Now()
		written = 0
		err := s.contracts.WithChainLock(ctx, lockID, func(tx domain.ContractTx) error {
			now := s.now()
			for _, c := range group {
				c.UpdatedAt = now
			}
			n, err := writeBatches(ctx, tx, group)
			written = n
			return err
		})
		s.metrics.IngestGroupDuration.Observe(time.Since(start).Seconds())
		if errors.Is(err, domain.ErrLockContention) {
			s.metrics.LockRetriesTotal.Inc()
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (s *IngestService) publishChainUpdated(ctx context.Context, symbol, date string, written int) {
	if s.publisher == nil {
		return
	}
	event := domain.ChainUpdatedEvent{
		Symbol:         symbol,
		ExpirationDate: date,
		Contracts:      written,
		OccurredAt:     s.now(),
	}
	if err := s.publisher.PublishChainUpdated(ctx, event); err != nil {
		// 事件只是通知，数据已经提交，发布失败不影响摄取结果
		s.logger.WarnContext(ctx, "failed to publish chain updated event",
			"symbol", symbol, "expiration", date, "error", err)
	}
}

func (s *IngestService) invalidateCache(ctx context.Context, symbol string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, symbol); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate chain cache", "symbol", symbol, "error", err)
	}
}

// dedupeByNaturalKey 同一自然键后出现的条目覆盖先出现的，顺序保持首次
// 出现的位置。
func dedupeByNaturalKey(contracts []*domain.OptionContract) []*domain.OptionContract {
	seen := make(map[string]int, len(contracts))
	out := make([]*domain.OptionContract, 0, len(contracts))
	for _, c := range contracts {
		key := c.NaturalKey()
		if idx, ok := seen[key]; ok {
			out[idx] = c
			continue
		}
		seen[key] = len(out)
		out = append(out, c)
	}
	return out
}

// groupByExpiration 以日期字符串为键分组，与锁键派生使用同一表示。
func groupByExpiration(contracts []*domain.OptionContract) map[string][]*domain.OptionContract {
	groups := make(map[string][]*domain.OptionContract)
	for _, c := range contracts {
		date := c.ExpirationDate.Format("2006-01-02")
		groups[date] = append(groups[date], c)
	}
	return groups
}
