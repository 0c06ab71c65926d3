package push

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pair-trader/internal/model"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	subject string
	data    []byte
}

type fakeJetStream struct {
	msgs []published
	err  error
}

func (f *fakeJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subj, data: data})
	return &nats.PubAck{Stream: "PAIRTRADER", Sequence: uint64(len(f.msgs))}, nil
}

func TestSubjectsSanitizeStrategyID(t *testing.T) {
	assert.Equal(t, "pairtrader.snapshot.eur_gbp", SnapshotSubject("eur.gbp"))
	assert.Equal(t, "pairtrader.trade.a_b_c_d", TradeSubject("a b*c>d"))
}

func TestNATSMirrorPublishesSnapshot(t *testing.T) {
	js := &fakeJetStream{}
	m := NewNATSMirror(js, zap.NewNop())

	m.Publish("s1", snapshot("s1", 0.3))

	require.Len(t, js.msgs, 1)
	assert.Equal(t, "pairtrader.snapshot.s1", js.msgs[0].subject)
	var got model.IndicatorSnapshot
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &got))
	assert.InDelta(t, 0.3, *got.Correlation, 1e-12)
}

func TestNATSMirrorRecordsTrade(t *testing.T) {
	js := &fakeJetStream{}
	m := NewNATSMirror(js, zap.NewNop())

	trade := model.Trade{
		EntryTime:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExitTime:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		LongSymbol:  "GBPUSD",
		ShortSymbol: "EURUSD",
		TotalProfit: 42,
	}
	require.NoError(t, m.RecordLiveTrade(context.Background(), "s1", trade))

	require.Len(t, js.msgs, 1)
	assert.Equal(t, "pairtrader.trade.s1", js.msgs[0].subject)
	var ev TradeEvent
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &ev))
	assert.Equal(t, "s1", ev.StrategyID)
	assert.Equal(t, 42.0, ev.Trade.TotalProfit)
}

func TestNATSMirrorTradeError(t *testing.T) {
	js := &fakeJetStream{err: errors.New("no responders")}
	m := NewNATSMirror(js, zap.NewNop())

	err := m.RecordLiveTrade(context.Background(), "s1", model.Trade{})
	assert.ErrorContains(t, err, "no responders")
	assert.NotPanics(t, func() { m.Publish("s1", snapshot("s1", 0)) })
}
