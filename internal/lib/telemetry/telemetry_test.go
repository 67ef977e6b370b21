package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecimator(t *testing.T) {
	d := NewDecimator(10 * time.Second)

	var admitted []int64
	for ms := int64(0); ms <= 30_000; ms += 1_000 {
		if d.Admit(ms) {
			admitted = append(admitted, ms)
		}
	}

	assert.Equal(t, []int64{0, 10_000, 20_000, 30_000}, admitted)
}

func TestDecimator_IrregularFixes(t *testing.T) {
	d := NewDecimator(10 * time.Second)

	assert.True(t, d.Admit(5_000), "First fix is always recorded")
	assert.False(t, d.Admit(14_999))
	assert.True(t, d.Admit(15_000))
	assert.True(t, d.Admit(60_000), "Gap longer than the interval")
}

func TestDecimator_ZeroIntervalAdmitsAll(t *testing.T) {
	d := NewDecimator(0)
	for ms := int64(0); ms < 5; ms++ {
		assert.True(t, d.Admit(ms))
	}
}

func TestMultiSink(t *testing.T) {
	var got []Record
	ok := SinkFunc(func(_ context.Context, r Record) error {
		got = append(got, r)
		return nil
	})
	broken := SinkFunc(func(context.Context, Record) error {
		return errors.New("connection refused")
	})

	record := Record{MissionID: "m-1", DriverID: "d-1", Latitude: 48.85, Longitude: 2.34, Speed: 42.5, Timestamp: time.UnixMilli(1000)}

	assert.NoError(t, MultiSink{ok, Discard}.Record(context.Background(), record))

	err := MultiSink{broken, ok}.Record(context.Background(), record)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, got, 2, "A failing sink does not stop the others")
}
