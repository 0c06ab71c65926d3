package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pair-trader/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// JetStreamPublisher is the part of nats.JetStreamContext the mirror needs.
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// TradeEvent is the payload on pairtrader.trade.<id>.
type TradeEvent struct {
	StrategyID string      `json:"strategy_id"`
	Trade      model.Trade `json:"trade"`
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func SnapshotSubject(strategyID string) string {
	return "pairtrader.snapshot." + subjectReplacer.Replace(strategyID)
}

func TradeSubject(strategyID string) string {
	return "pairtrader.trade." + subjectReplacer.Replace(strategyID)
}

// NATSMirror copies snapshots and finalized live trades onto the PAIRTRADER stream.
type NATSMirror struct {
	js     JetStreamPublisher
	logger *zap.Logger
}

func NewNATSMirror(js JetStreamPublisher, logger *zap.Logger) *NATSMirror {
	return &NATSMirror{js: js, logger: logger}
}

// Publish is best effort; a failed publish is logged and dropped.
func (m *NATSMirror) Publish(strategyID string, snap model.IndicatorSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		m.logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}
	if _, err := m.js.Publish(SnapshotSubject(strategyID), data); err != nil {
		m.logger.Error("failed to publish snapshot to NATS", zap.String("strategy_id", strategyID), zap.Error(err))
	}
}

// RecordLiveTrade publishes t for the persistence subscriber.
func (m *NATSMirror) RecordLiveTrade(ctx context.Context, strategyID string, t model.Trade) error {
	data, err := json.Marshal(TradeEvent{StrategyID: strategyID, Trade: t})
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	if _, err := m.js.Publish(TradeSubject(strategyID), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish trade: %w", err)
	}
	return nil
}
