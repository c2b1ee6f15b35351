// Package persist provides the durable sqlite-backed mirror of the
// highlight store. Durability is best-effort: callers treat every
// failure as log-and-continue, the in-memory view stays load-bearing.
package persist

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yasinhessnawi1/hideme-go/internal/geom"
	"github.com/yasinhessnawi1/hideme-go/internal/highlight"
)

// highlightRow is the database representation of one highlight record.
type highlightRow struct {
	ID        string `gorm:"primaryKey"`
	FileKey   string `gorm:"index:idx_file;index:idx_file_type"`
	Page      int    `gorm:"index:idx_file"`
	Type      string `gorm:"index;index:idx_file_type"`
	X         float64
	Y         float64
	W         float64
	H         float64
	OrigX     *float64
	OrigY     *float64
	OrigW     *float64
	OrigH     *float64
	Color     string
	Opacity   float64
	Text      string
	Entity    string
	Model     string
	Timestamp time.Time
}

func (highlightRow) TableName() string {
	return "highlights"
}

func toRow(rec *highlight.Record) *highlightRow {
	row := &highlightRow{
		ID:        rec.ID,
		FileKey:   rec.FileKey,
		Page:      rec.Page,
		Type:      string(rec.Type),
		X:         rec.Rect.X,
		Y:         rec.Rect.Y,
		W:         rec.Rect.W,
		H:         rec.Rect.H,
		Color:     rec.Color,
		Opacity:   rec.Opacity,
		Text:      rec.Text,
		Entity:    rec.Entity,
		Model:     rec.Model,
		Timestamp: rec.Timestamp,
	}
	if rec.Original != nil {
		row.OrigX, row.OrigY = &rec.Original.X, &rec.Original.Y
		row.OrigW, row.OrigH = &rec.Original.W, &rec.Original.H
	}
	return row
}

func fromRow(row *highlightRow) *highlight.Record {
	rec := &highlight.Record{
		ID:      row.ID,
		FileKey: row.FileKey,
		Page:    row.Page,
		Type:    highlight.Type(row.Type),
		Rect: geom.Rect{
			X: row.X, Y: row.Y, W: row.W, H: row.H,
		},
		Color:     row.Color,
		Opacity:   row.Opacity,
		Text:      row.Text,
		Entity:    row.Entity,
		Model:     row.Model,
		Timestamp: row.Timestamp,
	}
	if row.OrigX != nil && row.OrigY != nil && row.OrigW != nil && row.OrigH != nil {
		rec.Original = &geom.Rect{X: *row.OrigX, Y: *row.OrigY, W: *row.OrigW, H: *row.OrigH}
	}
	return rec
}

// SQLiteStore implements highlight.PersistentStore on a sqlite database.
type SQLiteStore struct {
	db *gorm.DB
}

// Open creates (or opens) the sqlite database at path and runs
// migrations. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&highlightRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate highlights table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put inserts or updates one record.
func (s *SQLiteStore) Put(ctx context.Context, rec *highlight.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("cannot persist empty highlight record")
	}
	return s.db.WithContext(ctx).Save(toRow(rec)).Error
}

// Delete removes one record by ID. Deleting an absent ID is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&highlightRow{}, "id = ?", id).Error
}

// GetByFile returns all persisted records for a file.
func (s *SQLiteStore) GetByFile(ctx context.Context, fileKey string) ([]*highlight.Record, error) {
	var rows []highlightRow
	if err := s.db.WithContext(ctx).Where("file_key = ?", fileKey).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*highlight.Record, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

// GetByType returns all persisted records of one type.
func (s *SQLiteStore) GetByType(ctx context.Context, t highlight.Type) ([]*highlight.Record, error) {
	var rows []highlightRow
	if err := s.db.WithContext(ctx).Where("type = ?", string(t)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*highlight.Record, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

// Clear removes every persisted record.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&highlightRow{}).Error
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
