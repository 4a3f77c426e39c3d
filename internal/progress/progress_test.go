package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citescope/citation-crawler/internal/observability"
)

func TestLogSink_Emit(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	err := sink.Emit(context.Background(), Record{
		RunID:      "run-1",
		RunName:    "pilot",
		Iteration:  3,
		Sampled:    10,
		Retrieved:  8,
		Stopped:    true,
		StopReason: "max iterations reached",
	})
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, float64(3), entry["iteration"])
	assert.Equal(t, "max iterations reached", entry["stop_reason"])
}

func TestMetricsSink_Emit(t *testing.T) {
	m := observability.NewMetrics("test_citecrawl_progress")
	sink := NewMetricsSink(m)

	err := sink.Emit(context.Background(), Record{
		PapersTotal:     100,
		ProcessedTotal:  40,
		StubTotal:       60,
		CitationsTotal:  250,
		ReferencesTotal: 300,
	})
	require.NoError(t, err)

	assert.Equal(t, float64(100), testutil.ToFloat64(m.TableRows.WithLabelValues("papers")))
	assert.Equal(t, float64(60), testutil.ToFloat64(m.TableRows.WithLabelValues("papers_stub")))
	assert.Equal(t, float64(300), testutil.ToFloat64(m.TableRows.WithLabelValues("references")))
}

type recordingSink struct {
	records []Record
	emitErr error
	closed  bool
}

func (s *recordingSink) Emit(_ context.Context, rec Record) error {
	s.records = append(s.records, rec)
	return s.emitErr
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestMultiSink_FansOut(t *testing.T) {
	t.Parallel()

	a := &recordingSink{}
	b := &recordingSink{emitErr: errors.New("sink down")}
	c := &recordingSink{}
	multi := NewMultiSink(a, b, c)

	err := multi.Emit(context.Background(), Record{Iteration: 1})

	assert.EqualError(t, err, "sink down")
	assert.Len(t, a.records, 1)
	assert.Len(t, b.records, 1)
	assert.Len(t, c.records, 1)

	require.NoError(t, multi.Close())
	assert.True(t, a.closed)
	assert.True(t, c.closed)
}

type fakeMessageWriter struct {
	messages []kafka.Message
	writeErr error
	closed   bool
}

func (w *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeMessageWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_Emit(t *testing.T) {
	t.Parallel()

	writer := &fakeMessageWriter{}
	sink := &KafkaSink{writer: writer, logger: zerolog.Nop()}

	err := sink.Emit(context.Background(), Record{RunID: "run-9", Iteration: 2, PapersTotal: 7})
	require.NoError(t, err)

	require.Len(t, writer.messages, 1)
	assert.Equal(t, []byte("run-9"), writer.messages[0].Key)

	var rec Record
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &rec))
	assert.Equal(t, 2, rec.Iteration)
	assert.Equal(t, 7, rec.PapersTotal)

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}

func TestKafkaSink_EmitError(t *testing.T) {
	t.Parallel()

	writer := &fakeMessageWriter{writeErr: errors.New("broker unreachable")}
	sink := &KafkaSink{writer: writer, logger: zerolog.Nop()}

	err := sink.Emit(context.Background(), Record{RunID: "run-9"})
	assert.ErrorContains(t, err, "broker unreachable")
}
