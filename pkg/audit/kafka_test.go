package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

func TestAlertPublisherSendsKeyedByTable(t *testing.T) {
	mp := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		require.Equal(t, "tbl-9", string(key))

		raw, err := msg.Value.Encode()
		require.NoError(t, err)
		var got Alert
		require.NoError(t, json.Unmarshal(raw, &got))
		require.Equal(t, "bit_run", got.Check)
		return nil
	})

	p := newAlertPublisherWith(mp, DefaultAlertTopic, testLogger())
	err := p.Publish(Alert{
		ID:        "a-1",
		TableID:   "tbl-9",
		Level:     "critical",
		Check:     "bit_run",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestTeeAlertsKeepsDurableCopyOnBrokerFailure(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	mp := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	mp.ExpectSendMessageAndFail(errors.New("broker down"))
	tee := NewTeeAlerts(store, newAlertPublisherWith(mp, DefaultAlertTopic, testLogger()), testLogger())

	err = tee.AppendAlert(context.Background(), Alert{
		ID:        "a-2",
		TableID:   "tbl-1",
		Level:     "warning",
		Check:     "entropy_outlier",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err, "a broker failure must not fail the durable write")
}
