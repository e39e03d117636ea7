package ports

import "context"

// MerchantRecord is a row from the host application's merchant table.
// Fabric-level credentials are not stored per merchant; the resolver splices
// those in from shared configuration.
type MerchantRecord struct {
	ID            string
	Name          string
	MerchantAppID string
	MerchantCode  string
	RSAPrivateKey string
	RSAPublicKey  string
	OwnerType     string
	OwnerID       string
	IsActive      bool
}

// MerchantStore is the read interface over merchant persistence. A nil record
// with a nil error means "no such merchant"; errors are reserved for storage
// failures.
type MerchantStore interface {
	// FindByID looks a merchant up by primary key.
	FindByID(ctx context.Context, id string) (*MerchantRecord, error)

	// FindByOwner looks a merchant up by its polymorphic owner.
	FindByOwner(ctx context.Context, ownerType, ownerID string) (*MerchantRecord, error)

	// FindByLegacyColumn looks a merchant up by a legacy flat column such as
	// branch_id, kept for rows written before owner polymorphism existed.
	FindByLegacyColumn(ctx context.Context, column, value string) (*MerchantRecord, error)
}
