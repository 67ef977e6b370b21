package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/convoy-nav/server/internal/lib/telemetry"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func TestSink_Record(t *testing.T) {
	pub := new(MockPublisher)
	sink := NewSink(pub, "")

	record := telemetry.Record{
		MissionID: "mission-7",
		DriverID:  "driver-3",
		Latitude:  48.85,
		Longitude: 2.34,
		Speed:     42.5,
		Timestamp: time.UnixMilli(1_700_000_000_000).UTC(),
	}

	pub.On("PublishWithContext", mock.Anything, DefaultExchange, "position.mission-7", false, false,
		mock.MatchedBy(func(msg amqp.Publishing) bool {
			var decoded telemetry.Record
			if err := json.Unmarshal(msg.Body, &decoded); err != nil {
				return false
			}
			return msg.ContentType == "application/json" && decoded.DriverID == record.DriverID &&
				decoded.Speed == record.Speed &&
				decoded.Timestamp.Equal(record.Timestamp)
		})).Return(nil)

	require.NoError(t, sink.Record(context.Background(), record))
	pub.AssertExpectations(t)
}

func TestSink_RecordPublishError(t *testing.T) {
	pub := new(MockPublisher)
	sink := NewSink(pub, "fleet")

	pub.On("PublishWithContext", mock.Anything, "fleet", "position.unassigned", false, false, mock.Anything).
		Return(errors.New("channel/connection is not open"))

	err := sink.Record(context.Background(), telemetry.Record{DriverID: "driver-3"})
	assert.ErrorContains(t, err, "failed to publish record")
}

func TestSink_CloseWithoutConnection(t *testing.T) {
	assert.NoError(t, NewSink(new(MockPublisher), "").Close())
}
