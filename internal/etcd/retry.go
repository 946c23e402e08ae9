package etcd

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/gamesync/internal/retry"
)

// NewEtcdClientWithRetry creates a new etcd client with retry logic
func NewEtcdClientWithRetry(ctx context.Context, dsn string) (*EtcdClient, error) {
	config := retry.EtcdDefaults()
	logger := logrus.WithField("component", "etcd")

	var client *EtcdClient
	err := retry.WithOperation(ctx, logger, config, func() error {
		var attemptErr error
		client, attemptErr = NewEtcdClient(dsn)
		if attemptErr != nil {
			return attemptErr
		}

		// Test the connection
		if _, testErr := client.KV().Get(ctx, "healthcheck"); testErr != nil {
			_ = client.Close()
			return classify("etcd connect", testErr)
		}
		return nil
	}, "etcd connect")

	if err != nil {
		logger.WithError(err).Error("Failed to establish etcd connection after all retries")
		return nil, err
	}
	return client, nil
}

// RetryEtcdOperation retries an etcd operation with exponential backoff
func RetryEtcdOperation(ctx context.Context, logger logrus.FieldLogger, config *retry.Config, operation func() error, operationName string) error {
	if config == nil {
		config = retry.EtcdDefaults()
	}
	return retry.WithOperation(ctx, logger, config, operation, operationName)
}
