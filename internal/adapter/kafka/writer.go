package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/incident-risk/internal/config"
	"github.com/couchcryptid/incident-risk/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

const dateLayout = "2006-01-02"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes forecast rows to a Kafka topic, one message per cell-day.
// It implements pipeline.ReportSink.
type Writer struct {
	writer    messageWriter
	batchSize int
	logger    *slog.Logger
}

// NewWriter creates a Kafka producer for the configured forecast topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaForecastTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchFlushInterval,
	}
	return &Writer{writer: w, batchSize: cfg.BatchSize, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// WriteReport publishes the report's forecast rows in batches of BatchSize.
func (w *Writer) WriteReport(ctx context.Context, r *domain.Report) error {
	if len(r.Forecast) == 0 {
		return nil
	}
	batch := max(w.batchSize, 1)
	for start := 0; start < len(r.Forecast); start += batch {
		end := min(start+batch, len(r.Forecast))
		msgs := make([]kafkago.Message, 0, end-start)
		for _, row := range r.Forecast[start:end] {
			msg, err := serializeToMessage(r.RunID, r.GeneratedAt, row)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish forecast batch at %d: %w", start, err)
		}
	}
	w.logger.Info("forecast published", "run_id", r.RunID, "messages", len(r.Forecast))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// forecastMessage is the wire format of one forecast row.
type forecastMessage struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Date        string    `json:"date"`
	LatGrid     float64   `json:"lat_grid"`
	LonGrid     float64   `json:"lon_grid"`
	Hour        int       `json:"hour"`
	Month       int       `json:"month"`
	Weekday     int       `json:"weekday"`
	Probability float64   `json:"probability"`
}

// serializeToMessage marshals a forecast row into a Kafka message keyed by run, cell and date.
func serializeToMessage(runID string, generatedAt time.Time, row domain.ForecastRow) (kafkago.Message, error) {
	date := row.Date.Format(dateLayout)
	data, err := json.Marshal(forecastMessage{
		RunID:       runID,
		GeneratedAt: generatedAt,
		Date:        date,
		LatGrid:     row.LatGrid,
		LonGrid:     row.LonGrid,
		Hour:        row.Hour,
		Month:       row.Month,
		Weekday:     row.Weekday,
		Probability: row.Probability,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(fmt.Sprintf("%s/%s/%s", runID, row.Cell, date)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "generated_at", Value: []byte(generatedAt.Format(time.RFC3339))},
		},
	}, nil
}
