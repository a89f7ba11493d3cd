package bus

import (
	"fmt"
	"strings"

	"github.com/ricesearch/rice-nlu/internal/config"
	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
	"github.com/ricesearch/rice-nlu/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryBus(log), nil

	case "kafka":
		brokers := SplitBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "rice-nlu"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "rice-nlu-bus",
			TopicPrefix:   cfg.KafkaTopicPrefix,
		}, log)
		if err != nil {
			return nil, err
		}
		return kb, nil

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}
}
