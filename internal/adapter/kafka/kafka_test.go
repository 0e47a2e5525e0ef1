package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/incident-risk/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	batches [][]kafkago.Message
	err     error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, msgs)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func testReport(n int) *domain.Report {
	r := &domain.Report{RunID: "run-7", GeneratedAt: time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC)}
	for i := range n {
		r.Forecast = append(r.Forecast, domain.ForecastRow{
			Cell:        domain.Cell{LatBin: 3123, LonBin: 12150 + i},
			LatGrid:     31.23,
			LonGrid:     121.50 + float64(i)/100,
			Date:        time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC),
			Hour:        12,
			Month:       7,
			Weekday:     1,
			Probability: 0.25,
		})
	}
	return r
}

func TestSerializeToMessage(t *testing.T) {
	r := testReport(1)

	msg, err := serializeToMessage(r.RunID, r.GeneratedAt, r.Forecast[0])
	require.NoError(t, err)

	assert.Equal(t, []byte("run-7/"+r.Forecast[0].Cell.String()+"/2024-07-02"), msg.Key)
	assert.JSONEq(t, `{
		"run_id": "run-7",
		"generated_at": "2024-07-01T06:00:00Z",
		"date": "2024-07-02",
		"lat_grid": 31.23,
		"lon_grid": 121.5,
		"hour": 12,
		"month": 7,
		"weekday": 1,
		"probability": 0.25
	}`, string(msg.Value))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "run_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("run-7"), msg.Headers[0].Value)
	assert.Equal(t, "generated_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-07-01T06:00:00Z"), msg.Headers[1].Value)
}

func TestWriter_WriteReportBatches(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{writer: fw, batchSize: 2, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, w.WriteReport(context.Background(), testReport(5)))
	require.Len(t, fw.batches, 3)
	assert.Len(t, fw.batches[0], 2)
	assert.Len(t, fw.batches[2], 1)
}

func TestWriter_WriteReportEmpty(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{writer: fw, batchSize: 2, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, w.WriteReport(context.Background(), testReport(0)))
	assert.Empty(t, fw.batches)
}

func TestWriter_WriteReportError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	w := &Writer{writer: fw, batchSize: 10, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	err := w.WriteReport(context.Background(), testReport(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, "kafka", w.Name())
}
