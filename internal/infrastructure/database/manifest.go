package database

import (
	"context"
	"time"

	"gorm.io/gorm"

	"rotif/pkg/ulid"
)

// ArchiveManifest records one DLQ archive batch: the fact that a set of
// dead-lettered messages was moved out of Redis to durable storage, without
// duplicating the message payloads themselves. Operators query this table to
// answer "what got archived and when" without scanning S3/ClickHouse.
type ArchiveManifest struct {
	ID          ulid.ULID `gorm:"type:varchar(26);primaryKey"`
	Sink        string    `gorm:"type:varchar(64);index;not null"`
	EntryCount  int       `gorm:"not null"`
	OldestEntry int64     `gorm:"not null"`
	NewestEntry int64     `gorm:"not null"`
	ArchivedAt  time.Time `gorm:"index;not null"`
}

// TableName pins the GORM table name so a renamed Go type never drifts the
// schema out from under the migration files in migrations/postgres.
func (ArchiveManifest) TableName() string {
	return "archive_manifests"
}

// ManifestRepository persists one row per archived DLQ batch.
type ManifestRepository struct {
	db *gorm.DB
	tx *gormTransactor
}

// NewManifestRepository wraps a connected PostgresDB for manifest writes.
func NewManifestRepository(pg *PostgresDB) *ManifestRepository {
	return &ManifestRepository{db: pg.DB, tx: NewTransactor(pg.DB)}
}

// RecordBatch inserts a manifest row describing one archive batch, and prunes
// manifest rows past their one-year retention horizon in the same
// transaction. sink names the destination (e.g. "s3", "clickhouse", "redis")
// that the batch was written to.
func (r *ManifestRepository) RecordBatch(ctx context.Context, sink string, entryCount int, oldest, newest int64) error {
	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		tx, _ := TxFromContext(ctx)

		manifest := ArchiveManifest{
			ID:          ulid.New(),
			Sink:        sink,
			EntryCount:  entryCount,
			OldestEntry: oldest,
			NewestEntry: newest,
			ArchivedAt:  time.Now().UTC(),
		}
		if err := tx.Create(&manifest).Error; err != nil {
			return err
		}
		return tx.Where("archived_at < ?", time.Now().AddDate(-1, 0, 0)).Delete(&ArchiveManifest{}).Error
	})
}

// ListRecent returns the most recently archived batches, newest first.
func (r *ManifestRepository) ListRecent(ctx context.Context, limit int) ([]ArchiveManifest, error) {
	var manifests []ArchiveManifest
	err := r.db.WithContext(ctx).Order("archived_at DESC").Limit(limit).Find(&manifests).Error
	return manifests, err
}
