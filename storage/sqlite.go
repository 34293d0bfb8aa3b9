// Package storage keeps computed reference traces and alignment runs in a
// local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "enf.sqlite3"

var (
	// ErrNotFound is returned when no cached trace matches the lookup.
	ErrNotFound = errors.New("record not found")

	errDBClientNil = errors.New("db client is nil")
)

// DB wraps a gorm handle on the SQLite file.
type DB struct {
	gorm *gorm.DB
	sql  *sql.DB
}

// ReferenceTrace is an estimated frequency trace for one reference
// recording under one set of estimator parameters.
type ReferenceTrace struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	Source      string  `gorm:"uniqueIndex:idx_trace_key,priority:1" json:"source"`
	Fingerprint string  `gorm:"uniqueIndex:idx_trace_key,priority:2" json:"fingerprint"`
	Step        float64 `json:"step"`
	SampleCount int     `json:"sample_count"`
	Samples     []byte  `json:"-"` // little-endian float64
	CreatedAt   time.Time
}

// AlignmentRun is one recorded alignment of a capture against the grid.
type AlignmentRun struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Capture     string  `gorm:"index:idx_run_capture" json:"capture"`
	Metric      string  `json:"metric"`
	Offset      int     `json:"offset"`
	Score       float64 `json:"score"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	QueryLength int     `json:"query_length"`

	// Known-offset comparison, nil when it could not be computed.
	Similarity *float64 `json:"similarity,omitempty"`
	MAE        *float64 `json:"mae,omitempty"`
	CreatedAt  time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&ReferenceTrace{}, &AlignmentRun{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DB{gorm: db, sql: sqlDB}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SaveReferenceTrace stores values for (source, fingerprint), replacing any
// previous entry.
func (d *DB) SaveReferenceTrace(ctx context.Context, source, fingerprint string, step float64, values []float64) error {
	if d == nil || d.gorm == nil {
		return errDBClientNil
	}

	row := ReferenceTrace{
		Source:      source,
		Fingerprint: fingerprint,
		Step:        step,
		SampleCount: len(values),
		Samples:     encodeValues(values),
	}
	err := d.gorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{"step", "sample_count", "samples", "created_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving trace %s: %w", source, err)
	}
	return nil
}

// LoadReferenceTrace returns the cached values and step for (source,
// fingerprint), or ErrNotFound.
func (d *DB) LoadReferenceTrace(ctx context.Context, source, fingerprint string) ([]float64, float64, error) {
	if d == nil || d.gorm == nil {
		return nil, 0, errDBClientNil
	}

	var row ReferenceTrace
	err := d.gorm.WithContext(ctx).
		Where("source = ? AND fingerprint = ?", source, fingerprint).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, fmt.Errorf("trace %s: %w", source, ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("loading trace %s: %w", source, err)
	}

	values := decodeValues(row.Samples)
	if len(values) != row.SampleCount {
		return nil, 0, fmt.Errorf("trace %s: stored %d values, decoded %d", source, row.SampleCount, len(values))
	}
	return values, row.Step, nil
}

// RecordAlignment inserts run, assigning a fresh id when it has none.
func (d *DB) RecordAlignment(ctx context.Context, run *AlignmentRun) error {
	if d == nil || d.gorm == nil {
		return errDBClientNil
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if err := d.gorm.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("recording alignment: %w", err)
	}
	return nil
}

// ListAlignments returns the runs recorded for capture, newest first. An
// empty capture lists every run.
func (d *DB) ListAlignments(ctx context.Context, capture string) ([]AlignmentRun, error) {
	if d == nil || d.gorm == nil {
		return nil, errDBClientNil
	}

	q := d.gorm.WithContext(ctx).Order("created_at DESC")
	if capture != "" {
		q = q.Where("capture = ?", capture)
	}

	var runs []AlignmentRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing alignments: %w", err)
	}
	return runs, nil
}

func encodeValues(values []float64) []byte {
	buf := make([]byte, 0, 8*len(values))
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

func decodeValues(data []byte) []float64 {
	values := make([]float64, len(data)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return values
}
