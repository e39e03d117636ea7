package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/domain/ports"
)

const merchantColumns = `id, name, merchant_app_id, merchant_code,
	coalesce(rsa_private_key, ''), coalesce(rsa_public_key, ''),
	coalesce(owner_type, ''), coalesce(owner_id, ''), is_active`

// MerchantStore reads merchant credentials from the host application's
// telebirr_merchants table.
type MerchantStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	// legacyColumns is the allowlist for FindByLegacyColumn. Column names are
	// interpolated into SQL, so only configured owner-mapping keys pass.
	legacyColumns map[string]struct{}
}

// NewMerchantStore creates a merchant store over a connection pool. The
// resolver's owner-mapping keys become the legacy column allowlist.
func NewMerchantStore(pool *pgxpool.Pool, resolver config.ResolverConfig, logger *zap.Logger) *MerchantStore {
	columns := make(map[string]struct{}, len(resolver.OwnerMappings))
	for column := range resolver.OwnerMappings {
		columns[column] = struct{}{}
	}
	return &MerchantStore{pool: pool, logger: logger, legacyColumns: columns}
}

// NewPool connects a pgx pool using the database configuration.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *MerchantStore) FindByID(ctx context.Context, id string) (*ports.MerchantRecord, error) {
	query := `SELECT ` + merchantColumns + `
		FROM telebirr_merchants
		WHERE id = $1 AND is_active`
	return s.queryOne(ctx, query, id)
}

func (s *MerchantStore) FindByOwner(ctx context.Context, ownerType, ownerID string) (*ports.MerchantRecord, error) {
	query := `SELECT ` + merchantColumns + `
		FROM telebirr_merchants
		WHERE owner_type = $1 AND owner_id = $2 AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`
	return s.queryOne(ctx, query, ownerType, ownerID)
}

func (s *MerchantStore) FindByLegacyColumn(ctx context.Context, column, value string) (*ports.MerchantRecord, error) {
	if _, allowed := s.legacyColumns[column]; !allowed {
		s.logger.Warn("legacy merchant lookup on unconfigured column",
			zap.String("column", column),
		)
		return nil, nil
	}
	query := `SELECT ` + merchantColumns + `
		FROM telebirr_merchants
		WHERE ` + column + ` = $1 AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`
	return s.queryOne(ctx, query, value)
}

func (s *MerchantStore) queryOne(ctx context.Context, query string, args ...interface{}) (*ports.MerchantRecord, error) {
	var record ports.MerchantRecord
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&record.ID,
		&record.Name,
		&record.MerchantAppID,
		&record.MerchantCode,
		&record.RSAPrivateKey,
		&record.RSAPublicKey,
		&record.OwnerType,
		&record.OwnerID,
		&record.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query merchant: %w", err)
	}
	return &record, nil
}
