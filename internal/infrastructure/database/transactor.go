package database

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// InjectTx stores a *gorm.DB transaction handle in ctx.
func InjectTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext extracts a *gorm.DB transaction handle from ctx, if any.
func TxFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok
}

// gormTransactor implements transactional execution over the archive
// manifest store using GORM.
type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor creates a new GORM-based transactor.
func NewTransactor(db *gorm.DB) *gormTransactor {
	return &gormTransactor{db: db}
}

// WithinTransaction executes fn within a database transaction.
//
// Transaction semantics:
//   - Commits automatically when fn returns nil
//   - Rolls back automatically when fn returns an error
//   - Rolls back automatically on panic (GORM handles this)
func (t *gormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := InjectTx(ctx, tx)
		return fn(txCtx)
	})
}
