package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/fim-rem-etl/internal/config"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/metadata"
)

// Message types carried in the message_type header.
const (
	TypeRunSummary = "run-summary"
	TypeFeature    = "feature"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes run notifications to a Kafka topic.
type Writer struct {
	writer    messageWriter
	batchSize int
	logger    *slog.Logger
}

// NewWriter creates a Kafka producer for the configured notification topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return newWriter(w, cfg.BatchSize, logger)
}

func newWriter(w messageWriter, batchSize int, logger *slog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Writer{writer: w, batchSize: batchSize, logger: logger}
}

// FeatureMessage is the per-feature notification. Geometry stays in the
// vector products; consumers get the bounding box only.
type FeatureMessage struct {
	RunID            string     `json:"run_id"`
	FeatureID        int64      `json:"feature_id"`
	Source           string     `json:"source"`
	LastModified     string     `json:"last_modified"`
	ModelName        string     `json:"model_name"`
	ConflationStatus string     `json:"conflation_status"`
	ModelType        string     `json:"model_type"`
	MinStage         float64    `json:"min_stage"`
	MaxStage         float64    `json:"max_stage"`
	MinDischarge     float64    `json:"min_discharge"`
	MaxDischarge     float64    `json:"max_discharge"`
	Range            string     `json:"range"`
	BBox             [4]float64 `json:"bbox"`
}

// Notify publishes the run summary followed by one message per feature, in
// WriteMessages calls of at most the configured batch size. It returns the
// number of messages written.
func (w *Writer) Notify(ctx context.Context, summary domain.RunSummary, features []metadata.Feature) (int, error) {
	producedAt := domain.Now()
	head, err := summaryMessage(summary, producedAt)
	if err != nil {
		return 0, err
	}
	if err := w.writer.WriteMessages(ctx, head); err != nil {
		return 0, fmt.Errorf("write run summary: %w", err)
	}
	written := 1

	batch := make([]kafkago.Message, 0, w.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.writer.WriteMessages(ctx, batch...); err != nil {
			return fmt.Errorf("write feature batch: %w", err)
		}
		written += len(batch)
		w.logger.Debug("feature batch produced", "messages", len(batch))
		batch = batch[:0]
		return nil
	}
	for i := range features {
		msg, err := featureMessage(summary.RunID, features[i], producedAt)
		if err != nil {
			return written, err
		}
		batch = append(batch, msg)
		if len(batch) == w.batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	w.logger.Info("run notification produced", "run_id", summary.RunID, "messages", written)
	return written, nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func summaryMessage(s domain.RunSummary, producedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run summary: %w", err)
	}
	return kafkago.Message{
		Key:     []byte(s.RunID),
		Value:   data,
		Headers: headers(TypeRunSummary, s.RunID, producedAt),
	}, nil
}

func featureMessage(runID string, f metadata.Feature, producedAt time.Time) (kafkago.Message, error) {
	m := FeatureMessage{
		RunID:            runID,
		FeatureID:        int64(f.FeatureID),
		Source:           f.Source,
		LastModified:     f.LastModified,
		ModelName:        f.ModelName,
		ConflationStatus: f.ConflationStatus,
		ModelType:        f.ModelType,
		MinStage:         f.MinStage,
		MaxStage:         f.MaxStage,
		MinDischarge:     f.MinDischarge,
		MaxDischarge:     f.MaxDischarge,
		Range:            f.Range,
	}
	if len(f.Geometry) > 0 {
		b := f.Geometry.Bounds()
		m.BBox = [4]float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feature %s: %w", f.FeatureID, err)
	}
	return kafkago.Message{
		Key:     []byte(f.FeatureID.String()),
		Value:   data,
		Headers: headers(TypeFeature, runID, producedAt),
	}, nil
}

func headers(msgType, runID string, producedAt time.Time) []kafkago.Header {
	return []kafkago.Header{
		{Key: "message_type", Value: []byte(msgType)},
		{Key: "run_id", Value: []byte(runID)},
		{Key: "produced_at", Value: []byte(producedAt.Format(time.RFC3339))},
	}
}
