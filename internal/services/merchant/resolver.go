package merchant

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/domain"
	"github.com/addispay/telebirr-service/internal/domain/ports"
	"github.com/addispay/telebirr-service/pkg/crypto"
)

// Resolver produces the active merchant's credentials for a request context.
// There are exactly two strategies, selected once at startup: Static for
// single-tenant deployments and Store for multi-tenant ones.
type Resolver interface {
	Resolve(ctx context.Context, reqCtx map[string]string) (*domain.MerchantCredentials, error)
}

// StaticResolver ignores the request context and always returns the
// statically configured credentials.
type StaticResolver struct {
	creds domain.MerchantCredentials
}

// NewStaticResolver builds a single-tenant resolver from configuration.
// The public key is derived from the private key once here if absent.
func NewStaticResolver(cfg config.MerchantConfig) (*StaticResolver, error) {
	creds := domain.MerchantCredentials{
		FabricAppID:   cfg.FabricAppID,
		MerchantAppID: cfg.MerchantAppID,
		MerchantCode:  cfg.MerchantCode,
		AppSecret:     cfg.AppSecret,
		RSAPrivateKey: cfg.RSAPrivateKey,
		RSAPublicKey:  cfg.RSAPublicKey,
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := creds.EnsurePublicKey(); err != nil {
		return nil, err
	}
	return &StaticResolver{creds: creds}, nil
}

// Resolve returns the configured credentials. The context is unused: an
// unresolvable context is not an error in single-tenant mode.
func (r *StaticResolver) Resolve(_ context.Context, _ map[string]string) (*domain.MerchantCredentials, error) {
	creds := r.creds
	return &creds, nil
}

// StoreResolver resolves merchants from a backing store using the request
// context. The merchant record supplies identity, code and keys; the fabric
// app id and app secret are always spliced in from the shared configuration,
// so tenant isolation covers keys but not the app-level secret.
type StoreResolver struct {
	store  ports.MerchantStore
	shared config.MerchantConfig
	cfg    config.ResolverConfig
	logger *zap.Logger

	// mappingKeys is cfg.OwnerMappings' keys in sorted order so the lookup
	// ladder is deterministic.
	mappingKeys []string
}

// NewStoreResolver builds a multi-tenant resolver.
func NewStoreResolver(store ports.MerchantStore, shared config.MerchantConfig, cfg config.ResolverConfig, logger *zap.Logger) *StoreResolver {
	keys := make([]string, 0, len(cfg.OwnerMappings))
	for key := range cfg.OwnerMappings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &StoreResolver{
		store:       store,
		shared:      shared,
		cfg:         cfg,
		logger:      logger,
		mappingKeys: keys,
	}
}

// Resolve walks the resolution ladder: direct merchant_id, the configured
// key name, an explicit (owner_type, owner_id) pair, then the owner-mapping
// shortcuts with an optional legacy flat-column fallback. The first match
// wins; no match is a MerchantNotFound error.
func (r *StoreResolver) Resolve(ctx context.Context, reqCtx map[string]string) (*domain.MerchantCredentials, error) {
	record, err := r.lookup(ctx, reqCtx)
	if err != nil {
		return nil, err
	}
	if record == nil {
		r.logger.Warn("merchant resolution failed",
			zap.Any("context", reqCtx),
		)
		return nil, domain.ErrMerchantNotFound.WithDetail("context", reqCtx)
	}

	creds := &domain.MerchantCredentials{
		MerchantID:    record.ID,
		Name:          record.Name,
		FabricAppID:   r.shared.FabricAppID,
		MerchantAppID: record.MerchantAppID,
		MerchantCode:  record.MerchantCode,
		AppSecret:     r.shared.AppSecret,
		RSAPrivateKey: record.RSAPrivateKey,
		RSAPublicKey:  record.RSAPublicKey,
	}
	if creds.RSAPrivateKey == "" {
		creds.RSAPrivateKey = r.shared.RSAPrivateKey
	}
	if creds.RSAPublicKey == "" {
		creds.RSAPublicKey = r.shared.RSAPublicKey
	}
	if creds.RSAPublicKey == "" && creds.RSAPrivateKey != "" {
		if derived, err := crypto.DerivePublicKey(creds.RSAPrivateKey); err == nil {
			creds.RSAPublicKey = derived
		} else {
			r.logger.Error("public key derivation failed",
				zap.String("merchant_id", record.ID),
				zap.String("private_key", crypto.RedactKey(creds.RSAPrivateKey)),
			)
		}
	}

	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

func (r *StoreResolver) lookup(ctx context.Context, reqCtx map[string]string) (*ports.MerchantRecord, error) {
	// Direct merchant id.
	if id, ok := reqCtx["merchant_id"]; ok && id != "" {
		return r.store.FindByID(ctx, id)
	}

	// Configurable key name.
	if r.cfg.KeyName != "" && r.cfg.KeyName != "merchant_id" {
		if id, ok := reqCtx[r.cfg.KeyName]; ok && id != "" {
			return r.store.FindByID(ctx, id)
		}
	}

	// Generic polymorphic owner pair.
	if ownerType, ok := reqCtx["owner_type"]; ok && ownerType != "" {
		if ownerID, ok := reqCtx["owner_id"]; ok && ownerID != "" {
			return r.store.FindByOwner(ctx, ownerType, ownerID)
		}
	}

	// Owner-mapping shortcuts, e.g. branch_id -> owner_type "branch".
	for _, contextKey := range r.mappingKeys {
		value, ok := reqCtx[contextKey]
		if !ok || value == "" {
			continue
		}

		record, err := r.store.FindByOwner(ctx, r.cfg.OwnerMappings[contextKey], value)
		if err != nil {
			return nil, err
		}
		if record != nil {
			return record, nil
		}

		if r.cfg.LegacyLookup {
			record, err = r.store.FindByLegacyColumn(ctx, contextKey, value)
			if err != nil {
				return nil, err
			}
			if record != nil {
				return record, nil
			}
		}
	}

	return nil, nil
}
