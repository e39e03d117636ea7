package ports

import "context"

// Secret represents a retrieved secret with metadata
type Secret struct {
	Value     string
	Version   string
	Metadata  map[string]string
	CreatedAt string
}

// SecretManager retrieves secrets (app secret, RSA private keys) from a
// secret management backend. Implementations handle authentication with the
// backend and cache values with a short TTL.
type SecretManager interface {
	// GetSecret retrieves a secret by its path/name. Path format depends on
	// the backend:
	//   - Vault: "secret/data/telebirr/app_secret"
	//   - AWS:   "telebirr/app_secret"
	//   - local: a file path relative to the configured base directory
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
