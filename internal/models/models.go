package models

import (
	"database/sql"
	"time"
)

// Log levels recorded in the ingestion audit log.
const (
	LogLevelSuccess = "SUCCESS"
	LogLevelError   = "ERROR"
	LogLevelFailed  = "FAILED"
)

// WeatherRecord is one immutable snapshot of forecast data for an event.
// The (event_id, event_location, event_date, load_version) tuple is unique;
// versions for a given event form a strictly increasing sequence from 1.
type WeatherRecord struct {
	ID                 int64
	EventID            string
	EventName          string
	EventLocation      string
	EventDate          time.Time
	Temperature        sql.NullFloat64
	FeelsLike          sql.NullFloat64
	MinTemperature     sql.NullFloat64
	MaxTemperature     sql.NullFloat64
	Humidity           sql.NullFloat64
	Pressure           sql.NullFloat64
	WindSpeed          sql.NullFloat64
	WeatherMain        sql.NullString
	WeatherDescription sql.NullString
	APISource          string
	LoadVersion        int
	LoadedAt           time.Time
}

// IngestionLogEntry is an append-only audit record of one ingestion attempt.
// Exactly one entry is written per attempt that reaches the provider,
// regardless of outcome.
type IngestionLogEntry struct {
	ID                int64
	EventID           string
	LogLevel          string
	Message           string
	EventName         string
	EventLocation     string
	EventDate         time.Time
	DataImportedCount int
	LoadedAt          time.Time
}

// Forecast is the canonical normalized forecast produced by a provider
// adapter. Units are fixed at the boundary: temperatures in Celsius, wind
// speed in m/s, humidity in percent. Pressure stays null when the provider
// does not report it.
type Forecast struct {
	Temperature        sql.NullFloat64
	FeelsLike          sql.NullFloat64
	MinTemperature     sql.NullFloat64
	MaxTemperature     sql.NullFloat64
	Humidity           sql.NullFloat64
	Pressure           sql.NullFloat64
	WindSpeed          sql.NullFloat64
	WeatherMain        string
	WeatherDescription string
}

// EventRef identifies one stored event without its forecast payload.
type EventRef struct {
	EventID       string
	EventName     string
	EventLocation string
	EventDate     time.Time
}
