// Package domain 定义期权链的领域模型：存活合约、历史合约与维护运行记录。
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OptionType string

const (
	TypeCall OptionType = "call"
	TypePut  OptionType = "put"
)

// Valid 判断期权类型是否合法
func (t OptionType) Valid() bool {
	return t == TypeCall || t == TypePut
}

// OptionContract 存活期权合约。自然键为 (symbol, expiration_date, strike, option_type)，
// 键字段创建后不再变化；价格与希腊字母字段随每次刷新被覆盖。
type OptionContract struct {
	ID             uint            `gorm:"primarykey" json:"-"`
	Symbol         string          `gorm:"column:symbol;type:varchar(16);not null;uniqueIndex:uidx_contract_key,priority:1;index" json:"symbol"`
	ExpirationDate time.Time       `gorm:"column:expiration_date;type:date;not null;uniqueIndex:uidx_contract_key,priority:2;index" json:"expiration_date"`
	Strike         decimal.Decimal `gorm:"column:strike;type:decimal(16,4);not null;uniqueIndex:uidx_contract_key,priority:3" json:"strike"`
	OptionType     OptionType      `gorm:"column:option_type;type:varchar(4);not null;uniqueIndex:uidx_contract_key,priority:4" json:"option_type"`

	Bid          decimal.Decimal `gorm:"column:bid;type:decimal(16,4);not null" json:"bid"`
	Ask          decimal.Decimal `gorm:"column:ask;type:decimal(16,4);not null" json:"ask"`
	LastPrice    decimal.Decimal `gorm:"column:last_price;type:decimal(16,4);not null" json:"last"`
	Volume       int64           `gorm:"column:volume;not null" json:"volume"`
	OpenInterest int64           `gorm:"column:open_interest;not null" json:"open_interest"`

	ImpliedVolatility decimal.NullDecimal `gorm:"column:implied_volatility;type:decimal(10,6)" json:"implied_volatility"`
	Delta             decimal.NullDecimal `gorm:"column:delta;type:decimal(10,6)" json:"delta"`
	Gamma             decimal.NullDecimal `gorm:"column:gamma;type:decimal(10,6)" json:"gamma"`
	Theta             decimal.NullDecimal `gorm:"column:theta;type:decimal(10,6)" json:"theta"`
	Vega              decimal.NullDecimal `gorm:"column:vega;type:decimal(10,6)" json:"vega"`

	CreatedAt time.Time `gorm:"column:created_at" json:"-"`
	UpdatedAt time.Time `gorm:"column:updated_at;index" json:"updated_at"`
}

// TableName 指定表名
func (OptionContract) TableName() string { return "option_contracts" }

// NaturalKey 自然键的字符串表示，用于去重与测试替身
func (c *OptionContract) NaturalKey() string {
	return c.Symbol + "|" + c.ExpirationDate.Format("2006-01-02") + "|" + c.Strike.String() + "|" + string(c.OptionType)
}

// HistoricalOptionContract 已到期合约的归档副本，只追加，不更新。
type HistoricalOptionContract struct {
	ID             uint            `gorm:"primarykey"`
	OriginalID     uint            `gorm:"column:original_id;index;not null"`
	Symbol         string          `gorm:"column:symbol;type:varchar(16);not null;index"`
	ExpirationDate time.Time       `gorm:"column:expiration_date;type:date;not null;index"`
	Strike         decimal.Decimal `gorm:"column:strike;type:decimal(16,4);not null"`
	OptionType     OptionType      `gorm:"column:option_type;type:varchar(4);not null"`

	Bid          decimal.Decimal `gorm:"column:bid;type:decimal(16,4);not null"`
	Ask          decimal.Decimal `gorm:"column:ask;type:decimal(16,4);not null"`
	LastPrice    decimal.Decimal `gorm:"column:last_price;type:decimal(16,4);not null"`
	Volume       int64           `gorm:"column:volume;not null"`
	OpenInterest int64           `gorm:"column:open_interest;not null"`

	ImpliedVolatility decimal.NullDecimal `gorm:"column:implied_volatility;type:decimal(10,6)"`
	Delta             decimal.NullDecimal `gorm:"column:delta;type:decimal(10,6)"`
	Gamma             decimal.NullDecimal `gorm:"column:gamma;type:decimal(10,6)"`
	Theta             decimal.NullDecimal `gorm:"column:theta;type:decimal(10,6)"`
	Vega              decimal.NullDecimal `gorm:"column:vega;type:decimal(10,6)"`

	UpdatedAt  time.Time `gorm:"column:updated_at"`
	ArchivedAt time.Time `gorm:"column:archived_at;index;not null"`
}

// TableName 指定表名
func (HistoricalOptionContract) TableName() string { return "historical_option_contracts" }

// NewHistoricalContract 由存活合约构造归档副本
func NewHistoricalContract(c *OptionContract, archivedAt time.Time) *HistoricalOptionContract {
	return &HistoricalOptionContract{
		OriginalID:        c.ID,
		Symbol:            c.Symbol,
		ExpirationDate:    c.ExpirationDate,
		Strike:            c.Strike,
		OptionType:        c.OptionType,
		Bid:               c.Bid,
		Ask:               c.Ask,
		LastPrice:         c.LastPrice,
		Volume:            c.Volume,
		OpenInterest:      c.OpenInterest,
		ImpliedVolatility: c.ImpliedVolatility,
		Delta:             c.Delta,
		Gamma:             c.Gamma,
		Theta:             c.Theta,
		Vega:              c.Vega,
		UpdatedAt:         c.UpdatedAt,
		ArchivedAt:        archivedAt,
	}
}

// MaintenanceRun 维护任务的持久化运行记录。进程重启或多实例并发时，
// 运行保护依赖这张表而不是进程内状态。
type MaintenanceRun struct {
	Name      string    `gorm:"column:name;type:varchar(32);primaryKey"`
	LastRunAt time.Time `gorm:"column:last_run_at;not null"`
	WeekKey   string    `gorm:"column:week_key;type:varchar(16)"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName 指定表名
func (MaintenanceRun) TableName() string { return "maintenance_runs" }

const (
	// RunDailyCleanup 每日清理运行记录名
	RunDailyCleanup = "daily_cleanup"
	// RunWeeklyArchival 周六归档运行记录名
	RunWeeklyArchival = "weekly_archival"
)
