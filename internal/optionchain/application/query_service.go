package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
)

// ChainQueryService 存活链的读与清空操作。
type ChainQueryService struct {
	contracts domain.ContractRepository
	cache     ChainCache
	logger    *slog.Logger
}

// NewChainQueryService 创建查询服务
func NewChainQueryService(contracts domain.ContractRepository, cache ChainCache, logger *slog.Logger) *ChainQueryService {
	return &ChainQueryService{contracts: contracts, cache: cache, logger: logger}
}

// GetLiveContracts 查询存活合约。不带到期日的整链查询走读缓存，
// 指定到期日的查询直接读库。
func (s *ChainQueryService) GetLiveContracts(ctx context.Context, symbol string, expiration *time.Time) ([]*domain.OptionContract, error) {
	if expiration == nil && s.cache != nil {
		cached, err := s.cache.Get(ctx, symbol)
		if err != nil {
			s.logger.WarnContext(ctx, "chain cache read failed", "symbol", symbol, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	contracts, err := s.contracts.FindLive(ctx, symbol, expiration)
	if err != nil {
		return nil, err
	}

	if expiration == nil && s.cache != nil && len(contracts) > 0 {
		if err := s.cache.Set(ctx, symbol, contracts); err != nil {
			s.logger.WarnContext(ctx, "chain cache write failed", "symbol", symbol, "error", err)
		}
	}
	return contracts, nil
}

// ClearLiveContracts 删除某标的的全部存活合约并使缓存失效。
func (s *ChainQueryService) ClearLiveContracts(ctx context.Context, symbol string) error {
	if err := s.contracts.DeleteBySymbol(ctx, symbol); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, symbol); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate chain cache", "symbol", symbol, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "live contracts cleared", "symbol", symbol)
	return nil
}
