package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/domain/ports"
)

// LocalSecretManager reads secrets from files under a base directory. Meant
// for development and for deployments that mount secrets as files.
type LocalSecretManager struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalSecretManager creates a file-backed secret manager.
func NewLocalSecretManager(basePath string, logger *zap.Logger) (*LocalSecretManager, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("secrets directory %s: %w", basePath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets path %s is not a directory", basePath)
	}
	return &LocalSecretManager{basePath: basePath, logger: logger}, nil
}

// GetSecret reads a secret file relative to the base directory. Paths that
// escape the base directory are rejected.
func (m *LocalSecretManager) GetSecret(_ context.Context, path string) (*ports.Secret, error) {
	full := filepath.Join(m.basePath, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, filepath.Clean(m.basePath)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("secret path %q escapes the secrets directory", path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", path, err)
	}

	m.logger.Debug("secret loaded from file", zap.String("path", path))
	return &ports.Secret{
		Value:    strings.TrimSpace(string(data)),
		Metadata: map[string]string{"source": "local"},
	}, nil
}
