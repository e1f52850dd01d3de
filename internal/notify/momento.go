package notify

import (
	"context"
	"fmt"

	"github.com/itstheanurag/codejudge/internal/model"
	"github.com/momentohq/client-sdk-go/auth"
	momentoconfig "github.com/momentohq/client-sdk-go/config"
	"github.com/momentohq/client-sdk-go/momento"
)

type MomentoNotifier struct {
	client    momento.TopicClient
	cacheName string
	topicName string
}

// NewMomentoNotifier reads the API token from the environment variable named
// by tokenEnv.
func NewMomentoNotifier(tokenEnv, cacheName, topicName string) (*MomentoNotifier, error) {
	credentialProvider, err := auth.NewEnvMomentoTokenProvider(tokenEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to load Momento auth token: %w", err)
	}

	client, err := momento.NewTopicClient(momentoconfig.TopicsDefault(), credentialProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create Momento client: %w", err)
	}

	return &MomentoNotifier{
		client:    client,
		cacheName: cacheName,
		topicName: topicName,
	}, nil
}

func (n *MomentoNotifier) Publish(ctx context.Context, ev model.StatusEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if _, err := n.client.Publish(ctx, &momento.TopicPublishRequest{
		CacheName: n.cacheName,
		TopicName: n.topicName,
		Value:     momento.Bytes(payload),
	}); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", n.topicName, err)
	}
	return nil
}

func (n *MomentoNotifier) Close() error {
	n.client.Close()
	return nil
}
