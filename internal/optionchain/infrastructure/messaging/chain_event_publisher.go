// Package messaging 通过 Kafka 发布期权链领域事件。
package messaging

import (
	"context"

	"github.com/google/uuid"
	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"github.com/quantfold/optionvault/pkg/mq"
)

// ChainEventPublisher domain.EventPublisher 的 Kafka 实现。
type ChainEventPublisher struct {
	producer *mq.KafkaProducer
	topic    string
}

// NewChainEventPublisher 创建事件发布者
func NewChainEventPublisher(producer *mq.KafkaProducer, topic string) *ChainEventPublisher {
	return &ChainEventPublisher{producer: producer, topic: topic}
}

// PublishChainUpdated 以 symbol 为分区键发布链更新事件
func (p *ChainEventPublisher) PublishChainUpdated(ctx context.Context, event domain.ChainUpdatedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return p.producer.SendMessage(ctx, p.topic, event.Symbol, event)
}
