package bus

import (
	"context"
	"reflect"
	"testing"

	"github.com/IBM/sarama"

	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
	"github.com/ricesearch/rice-nlu/internal/pkg/logger"
)

func TestNewKafkaBus_Validation(t *testing.T) {
	tests := []struct {
		name     string
		cfg      KafkaConfig
		wantCode string
	}{
		{"no brokers", KafkaConfig{ConsumerGroup: "rice-nlu"}, errors.CodeValidation},
		{"no consumer group", KafkaConfig{Brokers: []string{"localhost:9092"}}, errors.CodeValidation},
		{"bad version", KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "rice-nlu", Version: "not-a-version"}, errors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, err := NewKafkaBus(tt.cfg, nil)
			if bus != nil {
				bus.Close()
			}
			if !errors.HasCode(err, tt.wantCode) {
				t.Errorf("NewKafkaBus() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestNewKafkaBus_Connect(t *testing.T) {
	// Skip if Kafka not available
	bus, err := NewKafkaBus(KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: "rice-nlu-test",
		TopicPrefix:   "test.",
	}, logger.Discard())
	if err != nil {
		t.Skip("Kafka not available:", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSplitBrokers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"kafka-0:9092", []string{"kafka-0:9092"}},
		{"kafka-0:9092,kafka-1:9092", []string{"kafka-0:9092", "kafka-1:9092"}},
		{" kafka-0:9092 ,, kafka-1:9092 ,", []string{"kafka-0:9092", "kafka-1:9092"}},
		{"", nil},
		{" , ", nil},
	}

	for _, tt := range tests {
		if got := SplitBrokers(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitBrokers(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestProducerMessage_KeyedByModel(t *testing.T) {
	event := NewEvent(TopicModelTrained, "trainer", ModelTrained{ModelPath: "/models/assistant.nlp", Examples: 4})
	event.CorrelationID = "run-7"

	msg, err := producerMessage("prod."+TopicModelTrained, event)
	if err != nil {
		t.Fatalf("producerMessage() error = %v", err)
	}
	if msg.Topic != "prod.nlu.model.trained" {
		t.Errorf("Topic = %s", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != "/models/assistant.nlp" {
		t.Errorf("Key = %s, want model path", key)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	want := map[string]string{
		headerEventType:     TopicModelTrained,
		headerModelPath:     "/models/assistant.nlp",
		headerCorrelationID: "run-7",
	}
	if !reflect.DeepEqual(headers, want) {
		t.Errorf("Headers = %v, want %v", headers, want)
	}
}

func TestProducerMessage_FallsBackToEventID(t *testing.T) {
	event := NewEvent("custom", "test", map[string]int{"n": 1})

	msg, err := producerMessage("custom", event)
	if err != nil {
		t.Fatalf("producerMessage() error = %v", err)
	}
	key, _ := msg.Key.Encode()
	if string(key) != event.ID {
		t.Errorf("Key = %s, want event ID %s", key, event.ID)
	}
	if len(msg.Headers) != 1 {
		t.Errorf("Headers = %d, want only event_type", len(msg.Headers))
	}
}

func TestHeaderValue(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Headers: []*sarama.RecordHeader{
			nil,
			{Key: []byte(headerModelPath), Value: []byte("m.nlp")},
			{Key: []byte(headerCorrelationID), Value: []byte("run-123")},
		},
	}

	if got := headerValue(msg, headerCorrelationID); got != "run-123" {
		t.Errorf("headerValue() = %s, want run-123", got)
	}
	if got := headerValue(msg, "missing"); got != "" {
		t.Errorf("headerValue(missing) = %s, want empty", got)
	}
}

func TestClaimHandler_Dispatch(t *testing.T) {
	bus := &KafkaBus{handlers: make(map[string][]Handler), log: logger.Discard()}

	var got []Event
	bus.handlers[TopicModelTrained] = []Handler{func(ctx context.Context, event Event) error {
		got = append(got, event)
		return nil
	}}

	h := &claimHandler{bus: bus, topic: TopicModelTrained}
	h.dispatch(context.Background(), &sarama.ConsumerMessage{Value: []byte("not json")})
	h.dispatch(context.Background(), &sarama.ConsumerMessage{
		Value:   []byte(`{"id":"e1","payload":{"model_path":"m.nlp","examples":3}}`),
		Headers: []*sarama.RecordHeader{{Key: []byte(headerCorrelationID), Value: []byte("run-1")}},
	})

	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}
	if got[0].ID != "e1" || got[0].CorrelationID != "run-1" || got[0].Type != TopicModelTrained {
		t.Errorf("dispatched event = %+v", got[0])
	}

	var payload ModelTrained
	if err := DecodePayload(got[0], &payload); err != nil || payload.Examples != 3 || payload.ModelPath != "m.nlp" {
		t.Errorf("DecodePayload() = %+v, %v", payload, err)
	}
}

func TestKafkaBus_Closed(t *testing.T) {
	var _ Bus = (*KafkaBus)(nil)

	bus := &KafkaBus{handlers: make(map[string][]Handler), closed: true}

	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := bus.Publish(context.Background(), TopicModelLoaded, Event{ID: "x"}); !errors.HasCode(err, errors.CodeUnavailable) {
		t.Errorf("Publish() after Close() error = %v, want SERVICE_UNAVAILABLE", err)
	}
	err := bus.Subscribe(context.Background(), TopicModelLoaded, func(ctx context.Context, event Event) error {
		return nil
	})
	if !errors.HasCode(err, errors.CodeUnavailable) {
		t.Errorf("Subscribe() after Close() error = %v, want SERVICE_UNAVAILABLE", err)
	}
}

func TestKafkaBus_CloseWithoutConnections(t *testing.T) {
	bus := &KafkaBus{handlers: make(map[string][]Handler)}
	if err := bus.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
