//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openairlab/airq-analytics/internal/adapter/kafka"
	"github.com/openairlab/airq-analytics/internal/config"
	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/ingest"
	"github.com/openairlab/airq-analytics/internal/observability"
	"github.com/openairlab/airq-analytics/internal/store"
)

const (
	testSourceTopic = "test-observations"
	testSinkTopic   = "test-forecasts"
)

func testConfig(broker, suffix string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("test-%s-%d", suffix, time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}
}

func rawRowPayload(t *testing.T, city, pollutant, date string, value float64) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.RawRow{
		City: city, Pollutant: pollutant, Date: date, Value: value,
	})
	require.NoError(t, err)
	return payload
}

// TestKafkaReaderWriter verifies the adapter layer: kafka.Reader round-trips
// an observation row off the source topic, and kafka.Writer publishes a
// forecast onto the sink topic with the expected key and headers.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	cfg := testConfig(broker, "reader")

	payload := rawRowPayload(t, "Delhi", "AQI", "2024-06-01", 215)
	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte("test-key"),
		Value: payload,
	}))

	// Extract via kafka.Reader. Retry because the consumer group may need
	// time to rebalance before partitions are assigned.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawEvent
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("test-key"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testSourceTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	obs, err := domain.ParseRawRow(raw)
	require.NoError(t, err)
	assert.Equal(t, "Delhi", obs.City)
	assert.Equal(t, 215.0, obs.Value)

	// Publish a forecast via kafka.Writer and read it back raw.
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	produced := time.Date(2024, time.June, 2, 6, 0, 0, 0, time.UTC)
	fc := &domain.ForecastResult{
		City:        "Delhi",
		Pollutant:   domain.PollutantAQI,
		HorizonDays: 2,
		ProducedAt:  produced,
		Points: []domain.ForecastPoint{
			{Date: domain.Date(2024, time.June, 2), Point: 210, Lower: 180, Upper: 240},
			{Date: domain.Date(2024, time.June, 3), Point: 205, Lower: 170, Upper: 240},
		},
	}
	require.NoError(t, writer.PublishBatch(ctx, []*domain.ForecastResult{fc}))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	assert.Equal(t, "Delhi|AQI", string(msg.Key))
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "AQI", headers["pollutant"])
	stamp, err := time.Parse(time.RFC3339, headers["produced_at"])
	require.NoError(t, err, "produced_at should be valid RFC3339")
	assert.True(t, stamp.Equal(produced))

	var got domain.ForecastResult
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, fc.HorizonDays, got.HorizonDays)
	require.Len(t, got.Points, 2)
	assert.Equal(t, 210.0, got.Points[0].Point)
}

// TestIngestEndToEnd wires Reader into the ingest pipeline against real Kafka
// and verifies the rows land in the store and readiness flips.
func TestIngestEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)

	cfg := testConfig(broker, "ingest")

	// Ten days of Delhi AQI plus five days of Mumbai PM2.5.
	start := domain.Date(2024, time.March, 1)
	var msgs []kafkago.Message
	for i := 0; i < 10; i++ {
		date := start.AddDate(0, 0, i).Format(domain.DateLayout)
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(fmt.Sprintf("delhi-%d", i)),
			Value: rawRowPayload(t, "Delhi", "AQI", date, 200+float64(i)),
		})
	}
	for i := 0; i < 5; i++ {
		date := start.AddDate(0, 0, i).Format(domain.DateLayout)
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(fmt.Sprintf("mumbai-%d", i)),
			Value: rawRowPayload(t, "Mumbai", "PM2.5", date, 80+float64(i)),
		})
	}

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, msgs...))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	st := store.New()
	metrics := observability.NewMetricsForTesting()
	p := ingest.New(reader, st, discardLogger(), metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	require.Eventually(t, func() bool {
		return st.ObservationCount() == len(msgs)
	}, 90*time.Second, 200*time.Millisecond, "waiting for all rows to land")

	assert.NoError(t, p.CheckReadiness(ctx))

	pipelineCancel()
	require.NoError(t, <-errCh)

	series := st.FullSeries("Delhi", domain.PollutantAQI)
	require.Equal(t, 10, series.Len())
	assert.Equal(t, 200.0, series.Values[0])
	assert.Equal(t, 209.0, series.Values[9])

	assert.ElementsMatch(t, []string{"Delhi", "Mumbai"}, st.Cities())
}

// TestIngestPoisonPill verifies that malformed and invalid rows are skipped
// and committed while valid rows keep flowing.
func TestIngestPoisonPill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)

	cfg := testConfig(broker, "poison")

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad-json"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("bad-value"), Value: rawRowPayload(t, "Delhi", "AQI", "2024-03-01", -5)},
		kafkago.Message{Key: []byte("good"), Value: rawRowPayload(t, "Delhi", "AQI", "2024-03-02", 180)},
	))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	st := store.New()
	metrics := observability.NewMetricsForTesting()
	p := ingest.New(reader, st, discardLogger(), metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	require.Eventually(t, func() bool {
		return st.ObservationCount() == 1
	}, 60*time.Second, 200*time.Millisecond, "waiting for the valid row")

	pipelineCancel()
	require.NoError(t, <-errCh)

	got, ok := st.FullSeries("Delhi", domain.PollutantAQI).At(domain.Date(2024, time.March, 2))
	require.True(t, ok)
	assert.Equal(t, 180.0, got)
}
