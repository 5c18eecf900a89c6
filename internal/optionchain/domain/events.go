package domain

import (
	"context"
	"time"
)

// ChainUpdatedEvent 某 (symbol, expiration) 分组事务提交后发布的事件。
type ChainUpdatedEvent struct {
	EventID        string    `json:"event_id"`
	Symbol         string    `json:"symbol"`
	ExpirationDate string    `json:"expiration_date"`
	Contracts      int       `json:"contracts"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventPublisher 领域事件发布接口。发布失败不影响已提交的数据。
type EventPublisher interface {
	PublishChainUpdated(ctx context.Context, event ChainUpdatedEvent) error
}
