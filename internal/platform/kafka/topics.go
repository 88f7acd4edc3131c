// Package kafka holds the shared franz-go client options and topic bootstrap
// used by the producer and consumer packages.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicSpec describes a topic created at startup.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

// EnsureTopics creates any missing topics. Existing topics are left as they
// are.
func EnsureTopics(ctx context.Context, brokers []string, specs ...TopicSpec) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("kafka admin client: %w", err)
	}
	defer client.Close()
	admin := kadm.NewClient(client)

	for _, spec := range specs {
		partitions, rf := spec.Partitions, spec.ReplicationFactor
		if partitions <= 0 {
			partitions = 1
		}
		if rf <= 0 {
			rf = 1
		}
		resp, err := admin.CreateTopics(ctx, partitions, rf, nil, spec.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", spec.Name, err)
		}
		for _, r := range resp {
			if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
		}
	}
	return nil
}
