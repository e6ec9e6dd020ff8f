package record

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/fusion"
)

// DefaultBatchSize is the number of rows buffered before an insert.
const DefaultBatchSize = 500

// DetectionRow is a detection stored in SQLite.
type DetectionRow struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"size:36;index:idx_detections_run_frame"`
	Frame      int    `gorm:"index:idx_detections_run_frame"`
	TrackID    int
	ClassID    int
	ClassName  string `gorm:"size:64"`
	Confidence float64
	X1, Y1     int
	X2, Y2     int
}

// TableName implements gorm's tabler.
func (DetectionRow) TableName() string { return "detections" }

// EventRow is a fusion event stored in SQLite. Unknown values are NULL.
type EventRow struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"size:36;index:idx_events_run_frame"`
	Frame       int    `gorm:"index:idx_events_run_frame"`
	TimestampNs *int64
	GazeX       *int
	GazeY       *int
	ObjectID    int
	ObjectClass string `gorm:"size:64"`
}

// TableName implements gorm's tabler.
func (EventRow) TableName() string { return "fusion_events" }

// SQLiteSink stores detections and events in a SQLite database, tagged with
// the run id so several runs can share one file.
type SQLiteSink struct {
	db        *gorm.DB
	runID     string
	batchSize int

	dets   []DetectionRow
	events []EventRow
	closed bool
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path, runID string) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("record: sqlite path required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        DefaultBatchSize,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("record: open sqlite %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			closeDB(db)
			return nil, fmt.Errorf("record: set pragma: %w", err)
		}
	}

	if err := db.AutoMigrate(&DetectionRow{}, &EventRow{}); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("record: migrate: %w", err)
	}

	return &SQLiteSink{db: db, runID: runID, batchSize: DefaultBatchSize}, nil
}

// RunID returns the run id rows are tagged with.
func (s *SQLiteSink) RunID() string { return s.runID }

// WriteDetection buffers one detection and inserts the buffers once full.
func (s *SQLiteSink) WriteDetection(d detection.Detection) error {
	s.dets = append(s.dets, DetectionRow{
		RunID:      s.runID,
		Frame:      d.FrameIndex,
		TrackID:    d.TrackID,
		ClassID:    d.ClassID,
		ClassName:  d.ClassName,
		Confidence: d.Confidence,
		X1:         d.Box.X1,
		Y1:         d.Box.Y1,
		X2:         d.Box.X2,
		Y2:         d.Box.Y2,
	})
	if len(s.dets) >= s.batchSize {
		return s.flush()
	}
	return nil
}

// WriteEvent buffers one event and inserts both buffers once full.
func (s *SQLiteSink) WriteEvent(e fusion.Event) error {
	row := EventRow{
		RunID:       s.runID,
		Frame:       e.FrameIndex,
		ObjectID:    e.TrackID,
		ObjectClass: e.ClassName,
	}
	if e.HasTimestamp {
		ts := e.Timestamp
		row.TimestampNs = &ts
	}
	if e.HasGaze {
		x, y := e.GazeX, e.GazeY
		row.GazeX, row.GazeY = &x, &y
	}
	s.events = append(s.events, row)

	if len(s.events) >= s.batchSize || len(s.dets) >= s.batchSize {
		return s.flush()
	}
	return nil
}

// flush inserts buffered rows in one transaction.
func (s *SQLiteSink) flush() error {
	if len(s.dets) == 0 && len(s.events) == 0 {
		return nil
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if len(s.dets) > 0 {
			if err := tx.CreateInBatches(s.dets, s.batchSize).Error; err != nil {
				return fmt.Errorf("insert detections: %w", err)
			}
		}
		if len(s.events) > 0 {
			if err := tx.CreateInBatches(s.events, s.batchSize).Error; err != nil {
				return fmt.Errorf("insert events: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record: sqlite flush: %w", err)
	}
	s.dets = s.dets[:0]
	s.events = s.events[:0]
	return nil
}

// Close flushes pending rows and closes the database.
func (s *SQLiteSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.flush(), closeDB(s.db))
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
