package infrastructure

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const StreamName = "PAIRTRADER"

// Subjects: pairtrader.snapshot.<strategy_id>, pairtrader.trade.<strategy_id>
var streamSubjects = []string{"pairtrader.snapshot.*", "pairtrader.trade.*"}

func InitNATS(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url, nats.Name("pair-trader"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	cfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: streamSubjects,
		MaxMsgs:  1_000_000,
	}
	if _, err = js.AddStream(cfg); err != nil {
		// stream may already exist with older subjects
		if _, err = js.UpdateStream(cfg); err != nil {
			logger.Warn("failed to create or update stream", zap.String("stream", StreamName), zap.Error(err))
		}
	}

	return nc, js, nil
}
