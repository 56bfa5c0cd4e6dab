package database

import (
	"time"

	"github.com/tokikanri/tokikanri/internal/models"

	"github.com/pkg/errors"

	"gorm.io/gorm"
)

// Repository handles all database operations for session history
type Repository struct {
	db *DB
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a closed session into the history
func (r *Repository) Create(record *models.SessionRecord) error {
	result := r.db.Create(record)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert session record")
	}
	return nil
}

// GetByID retrieves a session record by its ID
func (r *Repository) GetByID(id uint) (*models.SessionRecord, error) {
	var record models.SessionRecord
	result := r.db.First(&record, id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get session record")
	}
	return &record, nil
}

// GetSessionsSince retrieves all sessions that started at or after a given time
func (r *Repository) GetSessionsSince(since time.Time) ([]*models.SessionRecord, error) {
	var records []*models.SessionRecord
	result := r.db.Where("started_at >= ?", since).Order("started_at ASC").Find(&records)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query session records")
	}

	return records, nil
}

// GetProgramSummarySince returns aggregated per-program usage since a given time
func (r *Repository) GetProgramSummarySince(since time.Time) ([]models.ProgramSummary, error) {
	var summaries []models.ProgramSummary

	result := r.db.Model(&models.SessionRecord{}).
		Select("program, SUM(seconds) as total_seconds, COUNT(*) as session_count").
		Where("started_at >= ?", since).
		Group("program").
		Order("total_seconds DESC").
		Scan(&summaries)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query program summary")
	}

	return summaries, nil
}

// DeleteOldSessions deletes sessions that ended before a specified date (soft delete)
func (r *Repository) DeleteOldSessions(before time.Time) (int64, error) {
	result := r.db.Where("ended_at < ?", before).Delete(&models.SessionRecord{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to delete old sessions")
	}
	return result.RowsAffected, nil
}

// LogError stores an error in the database for later inspection
func (r *Repository) LogError(msg string) error {
	entry := models.ErrorLog{
		Timestamp: time.Now(),
		ErrorMsg:  msg,
	}
	result := r.db.Create(&entry)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert error log")
	}
	return nil
}

// GetRecentErrors retrieves the newest error log entries up to a limit
func (r *Repository) GetRecentErrors(limit int) ([]*models.ErrorLog, error) {
	var entries []*models.ErrorLog
	result := r.db.Order("timestamp DESC").Limit(limit).Find(&entries)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query error logs")
	}
	return entries, nil
}
