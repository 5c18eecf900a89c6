// Package application 实现期权链的摄取协调、批量写入、重试与生命周期维护。
package application

import (
	"fmt"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"github.com/shopspring/decimal"
)

// ContractPayload 行情采集方提供的原始合约记录。
type ContractPayload struct {
	Ticker            string               `json:"ticker" binding:"required"`
	Strike            decimal.Decimal      `json:"strike"`
	ExpirationDate    string               `json:"expiration_date" binding:"required"`
	ContractType      string               `json:"contract_type" binding:"required"`
	Bid               decimal.Decimal      `json:"bid"`
	Ask               decimal.Decimal      `json:"ask"`
	Last              decimal.Decimal      `json:"last"`
	Volume            int64                `json:"volume"`
	OpenInterest      int64                `json:"open_interest"`
	ImpliedVolatility *decimal.Decimal     `json:"implied_volatility,omitempty"`
	Delta             *decimal.Decimal     `json:"delta,omitempty"`
	Gamma             *decimal.Decimal     `json:"gamma,omitempty"`
	Theta             *decimal.Decimal     `json:"theta,omitempty"`
	Vega              *decimal.Decimal     `json:"vega,omitempty"`
}

// ToDomain 校验并转换为领域记录。symbol 以调用方为准，payload 里的
// ticker 仅作交叉校验之外的参考，不参与自然键。
func (p *ContractPayload) ToDomain(symbol string) (*domain.OptionContract, error) {
	expiration, err := time.Parse("2006-01-02", p.ExpirationDate)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration_date %q: %w", p.ExpirationDate, err)
	}

	optionType := domain.OptionType(p.ContractType)
	if !optionType.Valid() {
		return nil, fmt.Errorf("invalid contract_type %q", p.ContractType)
	}

	return &domain.OptionContract{
		Symbol:            symbol,
		ExpirationDate:    expiration,
		Strike:            p.Strike,
		OptionType:        optionType,
		Bid:               p.Bid,
		Ask:               p.Ask,
		LastPrice:         p.Last,
		Volume:            p.Volume,
		OpenInterest:      p.OpenInterest,
		ImpliedVolatility: toNullDecimal(p.ImpliedVolatility),
		Delta:             toNullDecimal(p.Delta),
		Gamma:             toNullDecimal(p.Gamma),
		Theta:             toNullDecimal(p.Theta),
		Vega:              toNullDecimal(p.Vega),
	}, nil
}

// ConvertPayloads 批量转换，任何一条非法记录使整个调用失败。
func ConvertPayloads(symbol string, payloads []ContractPayload) ([]*domain.OptionContract, error) {
	contracts := make([]*domain.OptionContract, 0, len(payloads))
	for i := range payloads {
		c, err := payloads[i].ToDomain(symbol)
		if err != nil {
			return nil, fmt.Errorf("contract %d: %w", i, err)
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
