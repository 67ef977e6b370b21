package questdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	qdb "github.com/questdb/go-questdb-client/v4"

	"github.com/dpup/convoy-nav/server/internal/lib/telemetry"
)

// DefaultTable receives position rows
const DefaultTable = "vehicle_positions"

// ErrClosed is returned by Record once the sink has been closed
var ErrClosed = errors.New("questdb sink closed")

// Sink writes telemetry records to QuestDB over ILP/HTTP. LineSenders are not
// safe for concurrent use, so each write borrows one from a fixed pool.
type Sink struct {
	pool  chan qdb.LineSender
	table string

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSink opens size senders against address (host:port)
func NewSink(ctx context.Context, address, table string, size int) (*Sink, error) {
	if size <= 0 {
		size = 1
	}
	if table == "" {
		table = DefaultTable
	}

	s := &Sink{
		pool:  make(chan qdb.LineSender, size),
		table: table,
		done:  make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		sender, err := qdb.NewLineSender(
			ctx,
			qdb.WithHttp(),
			qdb.WithAddress(address),
			qdb.WithAutoFlushRows(1000),
			qdb.WithRequestTimeout(10*time.Second),
		)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create sender %d: %w", i, err)
		}
		s.pool <- sender
	}

	return s, nil
}

// Record implements telemetry.Sink. Rows are flushed immediately since the
// stream is already decimated upstream.
func (s *Sink) Record(ctx context.Context, record telemetry.Record) error {
	var sender qdb.LineSender
	select {
	case sender = <-s.pool:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	defer s.release(sender)

	err := sender.Table(s.table).
		Symbol("mission_id", record.MissionID).
		Symbol("driver_id", record.DriverID).
		Float64Column("latitude", record.Latitude).
		Float64Column("longitude", record.Longitude).
		Float64Column("speed_kmh", record.Speed).
		At(ctx, record.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to buffer row: %w", err)
	}

	if err := sender.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush row: %w", err)
	}
	return nil
}

// release returns a borrowed sender, or closes it when the sink closed while
// the write was in flight.
func (s *Sink) release(sender qdb.LineSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sender.Close(context.Background())
		return
	}
	s.pool <- sender
}

// Close flushes and closes all idle senders. Senders borrowed by in-flight
// writes are closed when those writes finish. Safe to call repeatedly.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)

	for {
		select {
		case sender := <-s.pool:
			sender.Close(context.Background())
		default:
			return
		}
	}
}
