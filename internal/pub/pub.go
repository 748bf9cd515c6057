package pub

import (
	"context"
	"encoding/json"
	"time"

	"settlement-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	// TopicSettlementAudit receives every committed transaction and ledger
	// entry batch. The audit subsystem persists these; the ledger core does
	// not store audit records itself.
	TopicSettlementAudit = "ledger.events.settlement"

	// SettlementEventsChannel is the redis fan-out channel for live
	// subscribers (dashboards, notification workers).
	SettlementEventsChannel = "settlement_events"
)

type SettlementEvent struct {
	EventType     string    `json:"event_type"` // settlement.committed, settlement.failed
	TransactionID string    `json:"transaction_id,omitempty"`
	PairID        *string   `json:"pair_id,omitempty"`
	AccountID     string    `json:"account_id,omitempty"`
	Type          string    `json:"transaction_type,omitempty"`
	Status        string    `json:"status,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	BalanceAfter  string    `json:"balance_after,omitempty"`
	EntryCount    int       `json:"entry_count,omitempty"`
	Operation     string    `json:"operation,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuditPublisher emits committed settlements to kafka for the audit
// subsystem and mirrors them onto a redis channel for live subscribers.
// Both sinks are best effort; a publish failure never fails a settlement
// that has already committed.
type AuditPublisher struct {
	kafkaWriter *kafka.Writer
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewAuditPublisher(kafkaWriter *kafka.Writer, redisClient *redis.Client, logger *zap.Logger) *AuditPublisher {
	return &AuditPublisher{
		kafkaWriter: kafkaWriter,
		redisClient: redisClient,
		logger:      logger,
	}
}

// NewAuditWriter builds the kafka writer for the audit topic.
func NewAuditWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    TopicSettlementAudit,
		Balancer: &kafka.LeastBytes{},
	}
}

// PublishCommitted emits one event per transaction in a committed
// settlement result.
func (p *AuditPublisher) PublishCommitted(ctx context.Context, operation string, result *domain.SettlementResult) {
	if result == nil {
		return
	}

	entryCounts := make(map[string]int)
	for _, e := range result.Entries {
		entryCounts[e.TransactionID]++
	}

	for _, txn := range result.Transactions {
		p.publish(ctx, &SettlementEvent{
			EventType:     "settlement.committed",
			TransactionID: txn.ID,
			PairID:        txn.PairID,
			AccountID:     txn.AccountID,
			Type:          string(txn.Type),
			Status:        string(txn.Status),
			Amount:        txn.Amount.Amount.String(),
			Currency:      txn.Amount.Currency,
			BalanceAfter:  txn.BalanceAfter.Amount.String(),
			EntryCount:    entryCounts[txn.ID],
			Operation:     operation,
		})
	}
}

// PublishFailed emits a failure event for a settlement that was rejected
// or rolled back.
func (p *AuditPublisher) PublishFailed(ctx context.Context, operation, accountID, currency string, opErr error) {
	event := &SettlementEvent{
		EventType: "settlement.failed",
		AccountID: accountID,
		Currency:  currency,
		Operation: operation,
	}
	if opErr != nil {
		event.ErrorMessage = opErr.Error()
	}
	p.publish(ctx, event)
}

func (p *AuditPublisher) publish(ctx context.Context, event *SettlementEvent) {
	event.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal settlement event", zap.Error(err))
		return
	}

	if p.kafkaWriter != nil {
		err := p.kafkaWriter.WriteMessages(ctx, kafka.Message{
			Key:   []byte(event.TransactionID),
			Value: payload,
			Time:  event.Timestamp,
		})
		if err != nil {
			p.logger.Warn("failed to publish settlement event to kafka",
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err))
		}
	}

	if p.redisClient != nil {
		if err := p.redisClient.Publish(ctx, SettlementEventsChannel, payload).Err(); err != nil {
			p.logger.Warn("failed to publish settlement event to redis",
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err))
		}
	}
}

func (p *AuditPublisher) Close() error {
	if p.kafkaWriter != nil {
		return p.kafkaWriter.Close()
	}
	return nil
}
