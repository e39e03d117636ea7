package secrets

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/domain/ports"
)

// AWSSecretManager retrieves secrets from AWS Secrets Manager.
type AWSSecretManager struct {
	client *secretsmanager.Client
	logger *zap.Logger
}

// NewAWSSecretManager creates an AWS-backed secret manager using the default
// credential chain.
func NewAWSSecretManager(ctx context.Context, region, profile string, logger *zap.Logger) (*AWSSecretManager, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &AWSSecretManager{
		client: secretsmanager.NewFromConfig(cfg),
		logger: logger,
	}, nil
}

// GetSecret retrieves a secret by name or ARN.
func (m *AWSSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &path,
	})
	if err != nil {
		return nil, fmt.Errorf("read aws secret %s: %w", path, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("aws secret %s has no string value", path)
	}

	version := ""
	if out.VersionId != nil {
		version = *out.VersionId
	}

	m.logger.Debug("secret loaded from aws", zap.String("path", path))
	return &ports.Secret{
		Value:    *out.SecretString,
		Version:  version,
		Metadata: map[string]string{"source": "aws"},
	}, nil
}
