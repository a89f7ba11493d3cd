package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
	"github.com/ricesearch/rice-nlu/internal/pkg/logger"
)

// Record headers set on every published lifecycle event.
const (
	headerCorrelationID = "correlation_id"
	headerEventType     = "event_type"
	headerModelPath     = "model_path"
)

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string

	// Version is the broker protocol version, e.g. "2.8.0".
	Version string

	// TopicPrefix is prepended to every lifecycle topic on the wire, so
	// several deployments can share one cluster.
	TopicPrefix string
}

// KafkaBus carries lifecycle events over Kafka. Events of one model share a
// partition key, so consumers see trained, failed and loaded events for a
// model in the order they were published.
type KafkaBus struct {
	cfg      KafkaConfig
	client   sarama.Client
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	log      *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool

	consumers sync.WaitGroup
	runCtx    context.Context
	stopRun   context.CancelFunc
}

// NewKafkaBus connects to the brokers and prepares a producer and a consumer
// group.
func NewKafkaBus(cfg KafkaConfig, log *logger.Logger) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.CodeValidation, "kafka brokers cannot be empty")
	}
	if cfg.ConsumerGroup == "" {
		return nil, errors.New(errors.CodeValidation, "kafka consumer group cannot be empty")
	}
	if log == nil {
		log = logger.Discard()
	}

	sc, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnavailable, "kafka brokers unreachable", err).
			WithDetail("brokers", strings.Join(cfg.Brokers, ","))
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka producer", err)
	}
	group, err := sarama.NewConsumerGroupFromClient(cfg.ConsumerGroup, client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to join kafka consumer group", err)
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	return &KafkaBus{
		cfg:      cfg,
		client:   client,
		producer: producer,
		group:    group,
		log:      log.WithComponent("bus"),
		handlers: make(map[string][]Handler),
		runCtx:   runCtx,
		stopRun:  stopRun,
	}, nil
}

// saramaConfig fills defaults into cfg and builds the client configuration.
// The producer waits for every in-sync replica.
func saramaConfig(cfg KafkaConfig) (*sarama.Config, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "rice-nlu-bus"
	}
	if cfg.Version == "" {
		cfg.Version = "2.8.0"
	}
	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "invalid kafka version", err).
			WithDetail("version", cfg.Version)
	}

	sc := sarama.NewConfig()
	sc.Version = version
	sc.ClientID = cfg.ClientID

	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 10 * time.Second
	return sc, nil
}

// wireTopic maps a lifecycle topic to its Kafka topic name.
func (b *KafkaBus) wireTopic(topic string) string {
	return b.cfg.TopicPrefix + topic
}

// Publish sends event to topic, keyed by the model it concerns.
func (b *KafkaBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.CodeTimeout, "publish cancelled", err)
	}

	msg, err := producerMessage(b.wireTopic(topic), event)
	if err != nil {
		return err
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return errors.Wrap(errors.CodeUnavailable, "failed to publish to kafka", err).
			WithDetail("topic", msg.Topic)
	}
	return nil
}

// producerMessage encodes event as a JSON record with routing headers.
func producerMessage(wireTopic string, event Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to marshal event", err)
	}

	modelPath := modelPathOf(event)
	key := modelPath
	if key == "" {
		key = event.ID
	}

	headers := []sarama.RecordHeader{{Key: []byte(headerEventType), Value: []byte(event.Type)}}
	if modelPath != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(headerModelPath), Value: []byte(modelPath)})
	}
	if event.CorrelationID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(headerCorrelationID), Value: []byte(event.CorrelationID)})
	}

	return &sarama.ProducerMessage{
		Topic:   wireTopic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(data),
		Headers: headers,
	}, nil
}

// modelPathOf extracts the model location every lifecycle payload carries.
func modelPathOf(event Event) string {
	var p struct {
		ModelPath string `json:"model_path"`
	}
	if event.Payload == nil || DecodePayload(event, &p) != nil {
		return ""
	}
	return p.ModelPath
}

// Subscribe adds handler for topic. The first handler of a topic starts a
// consumer loop for it.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	first := len(b.handlers[topic]) == 0
	b.handlers[topic] = append(b.handlers[topic], handler)
	if first {
		b.consumers.Add(1)
		go b.consume(topic)
	}
	return nil
}

// consume rejoins the group after every rebalance until Close.
func (b *KafkaBus) consume(topic string) {
	defer b.consumers.Done()

	claims := &claimHandler{bus: b, topic: topic}
	wire := []string{b.wireTopic(topic)}
	for {
		if err := b.group.Consume(b.runCtx, wire, claims); err != nil {
			b.log.Warn("Kafka consumer error", "topic", wire[0], "error", err)
		}
		select {
		case <-b.runCtx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Close stops the consumer loops and releases the Kafka connections.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.stopRun != nil {
		b.stopRun()
	}
	b.consumers.Wait()

	var failed []string
	closeAll := []struct {
		name string
		fn   func() error
	}{
		{"consumer group", closerOf(b.group)},
		{"producer", closerOf(b.producer)},
		{"client", closerOf(b.client)},
	}
	for _, c := range closeAll {
		if c.fn == nil {
			continue
		}
		if err := c.fn(); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", c.name, err))
		}
	}

	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()

	if len(failed) > 0 {
		return errors.New(errors.CodeInternal, "closing kafka bus: "+strings.Join(failed, "; "))
	}
	return nil
}

func closerOf(c interface{ Close() error }) func() error {
	if c == nil {
		return nil
	}
	return c.Close
}

// claimHandler feeds claimed records of one topic to the bus handlers.
type claimHandler struct {
	bus   *KafkaBus
	topic string
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim dispatches records until the session ends. Each record is
// marked after its handlers ran, whatever they returned.
func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			h.dispatch(session.Context(), msg)
			session.MarkMessage(msg, "")
		}
	}
}

// dispatch decodes one record and runs every handler for the topic.
// Undecodable records are logged and skipped.
func (h *claimHandler) dispatch(ctx context.Context, msg *sarama.ConsumerMessage) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.bus.log.Warn("Dropping undecodable event", "topic", h.topic, "offset", msg.Offset, "error", err)
		return
	}
	if event.CorrelationID == "" {
		event.CorrelationID = headerValue(msg, headerCorrelationID)
	}
	if event.Type == "" {
		event.Type = h.topic
	}

	h.bus.mu.RLock()
	handlers := h.bus.handlers[h.topic]
	h.bus.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			h.bus.log.Warn("Event handler failed", "topic", h.topic, "event_id", event.ID, "error", err)
		}
	}
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

// SplitBrokers turns a comma-separated broker list into addresses, dropping
// blanks.
func SplitBrokers(list string) []string {
	var brokers []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
