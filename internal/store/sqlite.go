// Package store persists weather records and the ingestion audit log in
// SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caiofh/showweather/internal/models"
)

// ErrConflict is returned when an insert collides with an existing
// (event_id, event_location, event_date, load_version) tuple. Callers
// re-resolve the version and retry.
var ErrConflict = errors.New("store: version conflict")

// event_date is bound as a date-only string; the driver maps DATE-declared
// columns back to time.Time on scan.
const dateFormat = "2006-01-02"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const recordColumns = `id, event_id, event_name, event_location, event_date, temperature, feels_like, min_temperature, max_temperature, humidity, pressure, wind_speed, weather_main, weather_description, api_source, load_version, loaded_at`

// FindLatestByEventID returns the most recent record for an event ID,
// matched case-insensitively. Latest means newest loaded_at, with
// load_version as tiebreaker. Returns nil when no record exists.
func (s *Store) FindLatestByEventID(eventID string) (*models.WeatherRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+recordColumns+`
		FROM weather_records
		WHERE LOWER(event_id) = LOWER(?)
		ORDER BY loaded_at DESC, load_version DESC
		LIMIT 1
	`, eventID)
	return scanRecordRow(row)
}

// FindLatestForTuple returns the most recent record for the exact
// (event_id, event_location, event_date) tuple, or nil when none exists.
func (s *Store) FindLatestForTuple(eventID, location string, date time.Time) (*models.WeatherRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+recordColumns+`
		FROM weather_records
		WHERE event_id = ? AND event_location = ? AND event_date = ?
		ORDER BY load_version DESC
		LIMIT 1
	`, eventID, location, date.Format(dateFormat))
	return scanRecordRow(row)
}

// LatestVersion returns the highest load_version stored for the tuple, or 0
// when the tuple has never been ingested.
func (s *Store) LatestVersion(eventID, location string, date time.Time) (int, error) {
	var version int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(load_version), 0)
		FROM weather_records
		WHERE event_id = ? AND event_location = ? AND event_date = ?
	`, eventID, location, date.Format(dateFormat)).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// InsertRecordWithLog writes a record and its audit entry in one
// transaction, so a persisted record always has a matching SUCCESS entry.
// A unique-constraint violation on the version tuple returns ErrConflict.
func (s *Store) InsertRecordWithLog(rec *models.WeatherRecord, entry *models.IngestionLogEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	res, err := tx.Exec(`
		INSERT INTO weather_records (event_id, event_name, event_location, event_date, temperature, feels_like, min_temperature, max_temperature, humidity, pressure, wind_speed, weather_main, weather_description, api_source, load_version, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.EventID, rec.EventName, rec.EventLocation, rec.EventDate.Format(dateFormat),
		rec.Temperature, rec.FeelsLike, rec.MinTemperature, rec.MaxTemperature,
		rec.Humidity, rec.Pressure, rec.WindSpeed, rec.WeatherMain, rec.WeatherDescription,
		rec.APISource, rec.LoadVersion, rec.LoadedAt.UTC())
	if err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert record: %w", err)
	}
	if id, err := res.LastInsertId(); err != nil {
		log.Printf("store: last insert id for record %s: %v", rec.EventID, err)
	} else {
		rec.ID = id
	}

	if entry != nil {
		if err := insertLog(tx, entry); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert log entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendLog writes one audit entry outside any record transaction. Used for
// failed attempts, which persist no record.
func (s *Store) AppendLog(entry *models.IngestionLogEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := insertLog(tx, entry); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertLog(tx *sql.Tx, entry *models.IngestionLogEntry) error {
	res, err := tx.Exec(`
		INSERT INTO ingestion_log (event_id, log_level, message, event_name, event_location, event_date, data_imported_count, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.EventID, entry.LogLevel, entry.Message, entry.EventName, entry.EventLocation,
		entry.EventDate.Format(dateFormat), entry.DataImportedCount, entry.LoadedAt.UTC())
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err != nil {
		log.Printf("store: last insert id for log entry %s: %v", entry.EventID, err)
	} else {
		entry.ID = id
	}
	return nil
}

// ListFilters narrows ListRecords output. Zero values match everything.
type ListFilters struct {
	EventID           string
	EventNameLike     string
	EventLocationLike string
	Date              *time.Time
}

// ListRecords returns records ordered by event_id ascending, then newest
// first within each event (loaded_at descending, load_version descending).
func (s *Store) ListRecords(f ListFilters) ([]models.WeatherRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM weather_records`
	var conds []string
	var args []interface{}

	if f.EventID != "" {
		conds = append(conds, "LOWER(event_id) = LOWER(?)")
		args = append(args, f.EventID)
	}
	if f.EventNameLike != "" {
		conds = append(conds, "event_name LIKE ?")
		args = append(args, "%"+f.EventNameLike+"%")
	}
	if f.EventLocationLike != "" {
		conds = append(conds, "event_location LIKE ?")
		args = append(args, "%"+f.EventLocationLike+"%")
	}
	if f.Date != nil {
		conds = append(conds, "event_date = ?")
		args = append(args, f.Date.Format(dateFormat))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY event_id ASC, loaded_at DESC, load_version DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.WeatherRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// ListLogEntries returns audit entries for an event, newest first. A limit
// of 0 means no limit.
func (s *Store) ListLogEntries(eventID string, limit int) ([]models.IngestionLogEntry, error) {
	query := `
		SELECT id, event_id, log_level, message, event_name, event_location, event_date, data_imported_count, loaded_at
		FROM ingestion_log
	`
	var args []interface{}
	if eventID != "" {
		query += " WHERE LOWER(event_id) = LOWER(?)"
		args = append(args, eventID)
	}
	query += " ORDER BY loaded_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.IngestionLogEntry
	for rows.Next() {
		var e models.IngestionLogEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.LogLevel, &e.Message, &e.EventName, &e.EventLocation, &e.EventDate, &e.DataImportedCount, &e.LoadedAt); err != nil {
			return nil, err
		}
		e.EventDate = e.EventDate.UTC()
		e.LoadedAt = e.LoadedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpcomingEvents returns the distinct event tuples with an event_date in
// [start, end], for the refresh scheduler.
func (s *Store) UpcomingEvents(start, end time.Time) ([]models.EventRef, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT event_id, event_name, event_location, event_date
		FROM weather_records
		WHERE event_date >= ? AND event_date <= ?
		ORDER BY event_date ASC, event_id ASC
	`, start.Format(dateFormat), end.Format(dateFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.EventRef
	for rows.Next() {
		var ev models.EventRef
		if err := rows.Scan(&ev.EventID, &ev.EventName, &ev.EventLocation, &ev.EventDate); err != nil {
			return nil, err
		}
		ev.EventDate = ev.EventDate.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.WeatherRecord, error) {
	var rec models.WeatherRecord
	err := row.Scan(&rec.ID, &rec.EventID, &rec.EventName, &rec.EventLocation, &rec.EventDate,
		&rec.Temperature, &rec.FeelsLike, &rec.MinTemperature, &rec.MaxTemperature,
		&rec.Humidity, &rec.Pressure, &rec.WindSpeed, &rec.WeatherMain, &rec.WeatherDescription,
		&rec.APISource, &rec.LoadVersion, &rec.LoadedAt)
	if err != nil {
		return nil, err
	}
	rec.EventDate = rec.EventDate.UTC()
	rec.LoadedAt = rec.LoadedAt.UTC()
	return &rec, nil
}

func scanRecordRow(row *sql.Row) (*models.WeatherRecord, error) {
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
