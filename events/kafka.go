// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes persisted geocoding results to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jcodagnone/geocoding/geocoding"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher sends one message per result. It implements
// geocoding.Publisher.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a producer for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}}
}

// Publish writes all results in a single WriteMessages call.
func (p *KafkaPublisher) Publish(ctx context.Context, results []geocoding.Result) error {
	if len(results) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, len(results))

	for i := range results {
		msg, err := serializeToMessage(results[i])
		if err != nil {
			return err
		}

		msgs[i] = msg
	}

	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage keys the message by provider and query so every
// answer for the same lookup lands on the same partition. The raw provider
// payload is left out.
func serializeToMessage(result geocoding.Result) (kafkago.Message, error) {
	result.RawResponse = nil

	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize geocoding result %d: %w", result.ID, err)
	}

	return kafkago.Message{
		Key:   []byte(result.Provider + ":" + result.Query),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "provider", Value: []byte(result.Provider)},
			{Key: "successful", Value: []byte(strconv.FormatBool(result.IsSuccessful))},
			{Key: "created_at", Value: []byte(result.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}
