package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a query record does not exist.
var ErrNotFound = errors.New("record not found")

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Document{}, &Segment{}, &QueryRecord{}); err != nil {
		closeGorm(db)
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	return &Database{gorm: db}, nil
}

func closeGorm(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Warn("close database after failed open")
	}
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDocument persists a document and its segments in one transaction.
func (d *Database) SaveDocument(ctx context.Context, doc *Document, segments []Segment) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	doc.SegmentCount = len(segments)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		if len(segments) == 0 {
			return nil
		}
		for i := range segments {
			segments[i].DocumentID = doc.ID
			segments[i].Position = i
		}
		if err := tx.CreateInBatches(segments, 200).Error; err != nil {
			return fmt.Errorf("create segments: %w", err)
		}
		return nil
	})
}

// LatestDocument returns the most recently ingested document.
func (d *Database) LatestDocument(ctx context.Context) (*Document, error) {
	var doc Document
	err := d.gorm.WithContext(ctx).Order("id DESC").First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// ListSegments returns the segments of a document ordered by position.
func (d *Database) ListSegments(ctx context.Context, documentID uint) ([]Segment, error) {
	var segments []Segment
	err := d.gorm.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("position ASC").
		Find(&segments).Error
	return segments, err
}

// SaveQueryRecord inserts a new record under a freshly generated identifier
// and returns it. Records are never updated.
func (d *Database) SaveQueryRecord(ctx context.Context, rec QueryRecord) (string, error) {
	rec.ID = uuid.NewString()
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		return "", fmt.Errorf("save query record: %w", err)
	}
	return rec.ID, nil
}

// GetQueryRecord loads a record by identifier.
func (d *Database) GetQueryRecord(ctx context.Context, id string) (*QueryRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	var rec QueryRecord
	if err := d.gorm.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("query %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &rec, nil
}

// QueryListOptions filters and paginates ListQueryRecords.
type QueryListOptions struct {
	Offset        int
	Limit         int
	FinalDecision string
	Overridden    *bool
}

// ListQueryRecords returns record headers newest first along with the total
// count matching the filters. PayloadJSON is not loaded.
func (d *Database) ListQueryRecords(ctx context.Context, opts QueryListOptions) ([]QueryRecord, int64, error) {
	if opts.Limit <= 0 {
		opts.Limit = 25
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	filter := func(db *gorm.DB) *gorm.DB {
		if decision := strings.TrimSpace(opts.FinalDecision); decision != "" {
			db = db.Where("final_decision = ?", strings.ToLower(decision))
		}
		if opts.Overridden != nil {
			db = db.Where("overridden = ?", *opts.Overridden)
		}
		return db
	}

	var total int64
	if err := d.gorm.WithContext(ctx).Model(&QueryRecord{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []QueryRecord
	err := d.gorm.WithContext(ctx).Model(&QueryRecord{}).Scopes(filter).
		Select("id", "query", "domain", "final_decision", "overridden", "processing_time_ms", "created_at").
		Order("created_at DESC").
		Offset(opts.Offset).
		Limit(opts.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
