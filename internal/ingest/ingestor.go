// Package ingest orchestrates fetching forecasts from a provider and
// persisting them as versioned records with an audit trail.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/caiofh/showweather/internal/identity"
	"github.com/caiofh/showweather/internal/metrics"
	"github.com/caiofh/showweather/internal/models"
	"github.com/caiofh/showweather/internal/store"
)

// RecordStore is the persistence surface the orchestrator needs.
type RecordStore interface {
	FindLatestForTuple(eventID, location string, date time.Time) (*models.WeatherRecord, error)
	LatestVersion(eventID, location string, date time.Time) (int, error)
	InsertRecordWithLog(rec *models.WeatherRecord, entry *models.IngestionLogEntry) error
	AppendLog(entry *models.IngestionLogEntry) error
}

// Provider fetches a normalized forecast for a location and date.
type Provider interface {
	Name() string
	FetchForecast(ctx context.Context, location string, date time.Time) (*models.Forecast, error)
}

// Request describes one ingestion attempt. EventID is optional; when empty
// it is derived from Location and Date.
type Request struct {
	EventName string
	Location  string
	Date      time.Time
	EventID   string
}

type Ingestor struct {
	store    RecordStore
	provider Provider
	clock    clockwork.Clock
}

func New(st RecordStore, provider Provider, clock clockwork.Clock) *Ingestor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ingestor{store: st, provider: provider, clock: clock}
}

// Ingest loads weather data for an event. When a record already exists for
// the (event_id, location, date) tuple the stored record is returned without
// contacting the provider and created is false; otherwise a new version is
// fetched and persisted.
func (in *Ingestor) Ingest(ctx context.Context, req Request) (rec *models.WeatherRecord, created bool, err error) {
	eventID, err := in.resolveRequest(&req)
	if err != nil {
		return nil, false, err
	}

	existing, err := in.store.FindLatestForTuple(eventID, req.Location, req.Date)
	if err != nil {
		return nil, false, &Error{Kind: KindStorage, Op: "check existing record", Err: err}
	}
	if existing != nil {
		log.Printf("ingest: %s already loaded (version %d), skipping fetch", eventID, existing.LoadVersion)
		metrics.IngestionsTotal.WithLabelValues("skipped").Inc()
		return existing, false, nil
	}

	rec, err = in.fetchAndPersist(ctx, eventID, req)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Refresh loads a fresh snapshot for an event even when one already exists,
// appending the next version.
func (in *Ingestor) Refresh(ctx context.Context, req Request) (*models.WeatherRecord, error) {
	eventID, err := in.resolveRequest(&req)
	if err != nil {
		return nil, err
	}
	return in.fetchAndPersist(ctx, eventID, req)
}

// resolveRequest validates the request and fills in the event ID.
func (in *Ingestor) resolveRequest(req *Request) (string, error) {
	if strings.TrimSpace(req.EventName) == "" {
		return "", &Error{Kind: KindInvalidInput, Op: "validate request", Err: errors.New("event name is required")}
	}
	if req.EventID != "" {
		return req.EventID, nil
	}

	eventID, err := identity.Resolve(req.Location, req.Date)
	if err != nil {
		return "", &Error{Kind: KindInvalidInput, Op: "resolve event id", Err: err}
	}
	req.EventID = eventID
	return eventID, nil
}

func (in *Ingestor) fetchAndPersist(ctx context.Context, eventID string, req Request) (*models.WeatherRecord, error) {
	fc, err := in.provider.FetchForecast(ctx, req.Location, req.Date)
	if err != nil {
		kind := classifyProviderErr(err)
		in.appendFailureLog(eventID, req, fmt.Sprintf("fetch forecast: %v", err))
		metrics.IngestionsTotal.WithLabelValues(string(kind)).Inc()
		return nil, &Error{Kind: kind, Op: "fetch forecast", Err: err}
	}

	// Two attempts: a concurrent writer may claim the version we computed.
	for attempt := 0; attempt < 2; attempt++ {
		version, err := in.store.LatestVersion(eventID, req.Location, req.Date)
		if err != nil {
			return nil, &Error{Kind: KindStorage, Op: "resolve version", Err: err}
		}

		rec := in.buildRecord(eventID, req, fc, version+1)
		entry := in.successEntry(rec)

		err = in.store.InsertRecordWithLog(rec, entry)
		if err == nil {
			log.Printf("ingest: SUCCESS %s version %d from %s", eventID, rec.LoadVersion, in.provider.Name())
			metrics.IngestionsTotal.WithLabelValues("success").Inc()
			metrics.RecordVersionsTotal.Inc()
			return rec, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, &Error{Kind: KindStorage, Op: "persist record", Err: err}
		}
	}

	in.appendFailureLog(eventID, req, "version conflict persisted after retry")
	metrics.IngestionsTotal.WithLabelValues(string(KindConflict)).Inc()
	return nil, &Error{Kind: KindConflict, Op: "persist record", Err: store.ErrConflict}
}

func (in *Ingestor) buildRecord(eventID string, req Request, fc *models.Forecast, version int) *models.WeatherRecord {
	return &models.WeatherRecord{
		EventID:            eventID,
		EventName:          req.EventName,
		EventLocation:      req.Location,
		EventDate:          req.Date,
		Temperature:        fc.Temperature,
		FeelsLike:          fc.FeelsLike,
		MinTemperature:     fc.MinTemperature,
		MaxTemperature:     fc.MaxTemperature,
		Humidity:           fc.Humidity,
		Pressure:           fc.Pressure,
		WindSpeed:          fc.WindSpeed,
		WeatherMain:        nullString(fc.WeatherMain),
		WeatherDescription: nullString(fc.WeatherDescription),
		APISource:          in.provider.Name(),
		LoadVersion:        version,
		LoadedAt:           in.clock.Now().UTC(),
	}
}

func (in *Ingestor) successEntry(rec *models.WeatherRecord) *models.IngestionLogEntry {
	return &models.IngestionLogEntry{
		EventID:           rec.EventID,
		LogLevel:          models.LogLevelSuccess,
		Message:           fmt.Sprintf("weather data loaded from %s (version %d)", rec.APISource, rec.LoadVersion),
		EventName:         rec.EventName,
		EventLocation:     rec.EventLocation,
		EventDate:         rec.EventDate,
		DataImportedCount: 1,
		LoadedAt:          rec.LoadedAt,
	}
}

// appendFailureLog records a failed attempt. Audit logging must not mask the
// original failure, so append errors only reach the process log.
func (in *Ingestor) appendFailureLog(eventID string, req Request, msg string) {
	entry := &models.IngestionLogEntry{
		EventID:           eventID,
		LogLevel:          models.LogLevelError,
		Message:           msg,
		EventName:         req.EventName,
		EventLocation:     req.Location,
		EventDate:         req.Date,
		DataImportedCount: 0,
		LoadedAt:          in.clock.Now().UTC(),
	}
	if err := in.store.AppendLog(entry); err != nil {
		log.Printf("ingest: append audit entry for %s: %v", eventID, err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
