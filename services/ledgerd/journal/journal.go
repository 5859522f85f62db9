package journal

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"
)

// Outcomes recorded for an operation.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
)

const maxListLimit = 500

// ErrNotFound is returned by Lookup when no row carries the key.
var ErrNotFound = errors.New("journal: operation not found")

// Operation is one API write request and the response it produced.
type Operation struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	IdempotencyKey *string   `gorm:"uniqueIndex;size:128"`
	RequestID      string    `gorm:"size:64"`
	Op             string    `gorm:"size:32;index"`
	Caller         string    `gorm:"size:128;index"`
	Owner          string    `gorm:"size:128;index"`
	VaultIndex     *int
	Amount         string `gorm:"size:40"`
	Route          string `gorm:"size:160"`
	Outcome        string `gorm:"size:16;index"`
	Status         int
	Error          string    `gorm:"type:text"`
	Response       string    `gorm:"type:text"`
	Digest         string    `gorm:"size:64"`
	CreatedAt      time.Time `gorm:"index"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Owner string
	Op    string
	Limit int
}

// Journal persists operations through gorm.
type Journal struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema. "sqlite:" DSNs use the
// embedded driver; all others are passed to Postgres.
func Open(dsn string) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	var dialector gorm.Dialector
	switch {
	case dsn == "":
		return nil, fmt.Errorf("journal dsn required")
	case strings.HasPrefix(dsn, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	default:
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&Operation{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record inserts op, assigning an id and timestamp when unset.
func (j *Journal) Record(ctx context.Context, op *Operation) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	return j.db.WithContext(ctx).Create(op).Error
}

// Lookup returns the operation stored under an idempotency key.
func (j *Journal) Lookup(ctx context.Context, key string) (*Operation, error) {
	var op Operation
	err := j.db.WithContext(ctx).First(&op, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// List returns the most recent operations matching filter, newest first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Operation, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	query := j.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if owner := strings.TrimSpace(filter.Owner); owner != "" {
		query = query.Where("owner = ?", owner)
	}
	if op := strings.TrimSpace(filter.Op); op != "" {
		query = query.Where("op = ?", op)
	}
	var out []Operation
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Digest fingerprints a request so a reused idempotency key can be told
// apart from a retry of the same request.
func Digest(method, path, caller string, body []byte) string {
	buf := bytes.NewBuffer(nil)
	for _, part := range []string{method, path, caller} {
		buf.WriteString(part)
		buf.WriteByte(0)
	}
	buf.Write(body)
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}
