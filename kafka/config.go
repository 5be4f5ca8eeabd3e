// Package kafka mirrors tag values to Kafka topics and consumes write
// requests from a write topic.
package kafka

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"clxtag/config"
)

// SASLMechanism represents the SASL authentication mechanism.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLSCRAMSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLSCRAMSHA512 SASLMechanism = "SCRAM-SHA-512"
)

// getTLSConfig returns a TLS configuration if TLS is enabled.
func getTLSConfig(cfg *config.KafkaConfig) *tls.Config {
	if !cfg.UseTLS {
		return nil
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}
}

// getSASLMechanism returns the configured SASL mechanism, nil when no
// username is set.
func getSASLMechanism(cfg *config.KafkaConfig) (sasl.Mechanism, error) {
	if cfg.Username == "" {
		return nil, nil
	}

	switch SASLMechanism(strings.ToUpper(cfg.SASLMechanism)) {
	case SASLNone, SASLPlain:
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case SASLSCRAMSHA256:
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case SASLSCRAMSHA512:
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.SASLMechanism)
	}
}

// createDialer creates a Kafka dialer with auth and TLS.
func createDialer(cfg *config.KafkaConfig) (*kafka.Dialer, error) {
	mechanism, err := getSASLMechanism(cfg)
	if err != nil {
		return nil, err
	}
	return &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		TLS:           getTLSConfig(cfg),
		SASLMechanism: mechanism,
	}, nil
}

// createTransport creates a Kafka transport with auth and TLS.
func createTransport(cfg *config.KafkaConfig) (*kafka.Transport, error) {
	mechanism, err := getSASLMechanism(cfg)
	if err != nil {
		return nil, err
	}
	return &kafka.Transport{
		DialTimeout: 10 * time.Second,
		TLS:         getTLSConfig(cfg),
		SASL:        mechanism,
	}, nil
}

// responseTopic is where write responses are produced.
func responseTopic(cfg *config.KafkaConfig) string {
	return cfg.GetWriteTopic() + ".responses"
}
