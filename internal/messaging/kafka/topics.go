package kafka

import (
	"fmt"
	"strings"
)

// Kafka не умеет topic exchange, поэтому каждый ключ маршрутизации
// отображается в отдельный topic "<exchange>.<ключ в нижнем регистре>".

// DeadLetterSuffix добавляется к exchange для topic-а dead-letter сообщений.
const DeadLetterSuffix = ".dlq"

// Kafka headers для маршрутизации и retry логики
const (
	HeaderRoutingKey    = "x-routing-key"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// TopicFor возвращает topic для ключа маршрутизации.
func TopicFor(exchange, routingKey string) string {
	return exchange + "." + strings.ToLower(routingKey)
}

// DeadLetterTopic возвращает topic dead-letter сообщений exchange.
func DeadLetterTopic(exchange string) string {
	return exchange + DeadLetterSuffix
}

// RoutingKeyFromTopic восстанавливает ключ из имени topic-а (в нижнем регистре).
func RoutingKeyFromTopic(exchange, topic string) string {
	return strings.TrimPrefix(topic, exchange+".")
}

// topicsFor отображает привязки в topic-и; шаблоны с "*" и "#" Kafka не поддерживает.
func topicsFor(exchange string, routingKeys []string) ([]string, error) {
	seen := make(map[string]struct{}, len(routingKeys))
	topics := make([]string, 0, len(routingKeys))
	for _, key := range routingKeys {
		if strings.ContainsAny(key, "*#") {
			return nil, fmt.Errorf("kafka transport does not support wildcard binding %q", key)
		}
		topic := TopicFor(exchange, key)
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics, nil
}
