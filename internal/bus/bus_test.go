package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ricesearch/rice-nlu/internal/config"
)

func waitGroup(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for events")
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	err := bus.Subscribe(context.Background(), TopicModelTrained, func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), TopicModelTrained, NewEvent(TopicModelTrained, "test", nil)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	waitGroup(t, &wg, time.Second)

	if got := received.Load(); got != 3 {
		t.Errorf("Received %d events, want 3", got)
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var count1, count2 atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), TopicModelLoaded, func(ctx context.Context, event Event) error {
		count1.Add(1)
		wg.Done()
		return nil
	})
	bus.Subscribe(context.Background(), TopicModelLoaded, func(ctx context.Context, event Event) error {
		count2.Add(1)
		wg.Done()
		return nil
	})

	wg.Add(2)
	bus.Publish(context.Background(), TopicModelLoaded, NewEvent(TopicModelLoaded, "test", nil))
	waitGroup(t, &wg, time.Second)

	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("Expected both subscribers to receive 1 event, got %d and %d", count1.Load(), count2.Load())
	}
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	if err := bus.Publish(context.Background(), "empty.topic", Event{ID: "test", Type: "test"}); err != nil {
		t.Errorf("Publish() to empty topic error = %v", err)
	}
}

func TestMemoryBus_HandlerOutlivesPublisherContext(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	handlerErr := make(chan error, 1)
	release := make(chan struct{})
	bus.Subscribe(context.Background(), TopicTrainingFailed, func(ctx context.Context, event Event) error {
		<-release
		handlerErr <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, TopicTrainingFailed, NewEvent(TopicTrainingFailed, "test", nil))
	cancel()
	close(release)

	select {
	case err := <-handlerErr:
		if err != nil {
			t.Errorf("handler context error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for handler")
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(nil)

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if err := bus.Publish(context.Background(), "test", Event{}); err == nil {
		t.Error("Publish() after Close() should error")
	}

	err := bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if err == nil {
		t.Error("Subscribe() after Close() should error")
	}
}

func TestMemoryBus_Concurrent(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), "concurrent", func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	numPublishers := 10
	eventsPerPublisher := 100
	wg.Add(numPublishers * eventsPerPublisher)

	for p := 0; p < numPublishers; p++ {
		go func() {
			for i := 0; i < eventsPerPublisher; i++ {
				bus.Publish(context.Background(), "concurrent", Event{ID: "test", Type: "test"})
			}
		}()
	}

	waitGroup(t, &wg, 5*time.Second)

	expected := int32(numPublishers * eventsPerPublisher)
	if got := received.Load(); got != expected {
		t.Errorf("Received %d events, want %d", got, expected)
	}
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(TopicModelTrained, "trainer", ModelTrained{Examples: 2})
	b := NewEvent(TopicModelTrained, "trainer", nil)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("NewEvent() IDs = %q, %q, want distinct non-empty", a.ID, b.ID)
	}
	if a.Type != TopicModelTrained || a.Source != "trainer" {
		t.Errorf("NewEvent() = %+v", a)
	}
	if a.Timestamp == 0 {
		t.Error("NewEvent() Timestamp not set")
	}
}

func TestDecodePayload(t *testing.T) {
	original := ModelTrained{ModelPath: "/m.nlp", Examples: 4, Intents: []string{"a", "b"}, Digest: "sha256:x"}

	// Kafka consumers see a generic map
	generic := Event{Payload: map[string]any{
		"model_path": "/m.nlp",
		"examples":   float64(4),
		"intents":    []any{"a", "b"},
		"digest":     "sha256:x",
	}}

	for name, event := range map[string]Event{
		"struct": {Payload: original},
		"map":    generic,
	} {
		t.Run(name, func(t *testing.T) {
			var got ModelTrained
			if err := DecodePayload(event, &got); err != nil {
				t.Fatalf("DecodePayload() error = %v", err)
			}
			if got.ModelPath != original.ModelPath || got.Examples != 4 || len(got.Intents) != 2 || got.Digest != "sha256:x" {
				t.Errorf("DecodePayload() = %+v, want %+v", got, original)
			}
		})
	}
}

func TestNewBus(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BusConfig
		wantErr bool
	}{
		{name: "default", cfg: config.BusConfig{}},
		{name: "memory", cfg: config.BusConfig{Type: "Memory"}},
		{name: "kafka without brokers", cfg: config.BusConfig{Type: "kafka"}, wantErr: true},
		{name: "unknown", cfg: config.BusConfig{Type: "nats"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBus(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if _, ok := b.(*MemoryBus); !ok {
					t.Errorf("NewBus() = %T, want *MemoryBus", b)
				}
				b.Close()
			}
		})
	}
}
