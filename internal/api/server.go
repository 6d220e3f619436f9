// Package api serves the read API over stored weather records plus the
// ingestion endpoint.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caiofh/showweather/internal/ingest"
	"github.com/caiofh/showweather/internal/models"
	"github.com/caiofh/showweather/internal/store"
)

const dateFormat = "2006-01-02"

type Server struct {
	store    *store.Store
	ingestor *ingest.Ingestor
	port     string
}

func NewServer(st *store.Store, ingestor *ingest.Ingestor, port string) *Server {
	return &Server{store: st, ingestor: ingestor, port: port}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/records", s.handleListRecords)
	mux.HandleFunc("GET /api/records/{eventID}/latest", s.handleLatestRecord)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/logs", s.handleListLogs)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// recordJSON is the wire shape of a weather record. Measurements the
// provider did not report render as null rather than zero.
type recordJSON struct {
	ID                 int64    `json:"id"`
	EventID            string   `json:"event_id"`
	EventName          string   `json:"event_name"`
	EventLocation      string   `json:"event_location"`
	EventDate          string   `json:"event_date"`
	Temperature        *float64 `json:"temperature"`
	FeelsLike          *float64 `json:"feels_like"`
	MinTemperature     *float64 `json:"min_temperature"`
	MaxTemperature     *float64 `json:"max_temperature"`
	Humidity           *float64 `json:"humidity"`
	Pressure           *float64 `json:"pressure"`
	WindSpeed          *float64 `json:"wind_speed"`
	WeatherMain        string   `json:"weather_main,omitempty"`
	WeatherDescription string   `json:"weather_description,omitempty"`
	APISource          string   `json:"api_source"`
	LoadVersion        int      `json:"load_version"`
	LoadedAt           string   `json:"loaded_at"`
}

func toRecordJSON(rec *models.WeatherRecord) recordJSON {
	return recordJSON{
		ID:                 rec.ID,
		EventID:            rec.EventID,
		EventName:          rec.EventName,
		EventLocation:      rec.EventLocation,
		EventDate:          rec.EventDate.Format(dateFormat),
		Temperature:        floatPtr(rec.Temperature),
		FeelsLike:          floatPtr(rec.FeelsLike),
		MinTemperature:     floatPtr(rec.MinTemperature),
		MaxTemperature:     floatPtr(rec.MaxTemperature),
		Humidity:           floatPtr(rec.Humidity),
		Pressure:           floatPtr(rec.Pressure),
		WindSpeed:          floatPtr(rec.WindSpeed),
		WeatherMain:        rec.WeatherMain.String,
		WeatherDescription: rec.WeatherDescription.String,
		APISource:          rec.APISource,
		LoadVersion:        rec.LoadVersion,
		LoadedAt:           rec.LoadedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := store.ListFilters{
		EventID:           q.Get("event_id"),
		EventNameLike:     q.Get("event_name"),
		EventLocationLike: q.Get("event_location"),
	}
	if d := q.Get("event_date"); d != "" {
		date, err := time.Parse(dateFormat, d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "event_date must be YYYY-MM-DD")
			return
		}
		filters.Date = &date
	}

	records, err := s.store.ListRecords(filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]recordJSON, 0, len(records))
	for i := range records {
		out = append(out, toRecordJSON(&records[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatestRecord(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")

	rec, err := s.store.FindLatestByEventID(eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no record for event "+eventID)
		return
	}
	writeJSON(w, http.StatusOK, toRecordJSON(rec))
}

type ingestRequest struct {
	EventName     string `json:"event_name"`
	EventLocation string `json:"event_location"`
	EventDate     string `json:"event_date"`
	EventID       string `json:"event_id"`
	Refresh       bool   `json:"refresh"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	date, err := time.Parse(dateFormat, body.EventDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "event_date must be YYYY-MM-DD")
		return
	}

	req := ingest.Request{
		EventName: body.EventName,
		Location:  body.EventLocation,
		Date:      date,
		EventID:   body.EventID,
	}

	var rec *models.WeatherRecord
	status := http.StatusCreated
	if body.Refresh {
		rec, err = s.ingestor.Refresh(r.Context(), req)
	} else {
		var created bool
		rec, created, err = s.ingestor.Ingest(r.Context(), req)
		if err == nil && !created {
			status = http.StatusOK
		}
	}
	if err != nil {
		writeError(w, statusForKind(ingest.KindOf(err)), err.Error())
		return
	}
	writeJSON(w, status, toRecordJSON(rec))
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.store.ListLogEntries(q.Get("event_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type logJSON struct {
		ID                int64  `json:"id"`
		EventID           string `json:"event_id"`
		LogLevel          string `json:"log_level"`
		Message           string `json:"message"`
		EventName         string `json:"event_name"`
		EventLocation     string `json:"event_location"`
		EventDate         string `json:"event_date"`
		DataImportedCount int    `json:"data_imported_count"`
		LoadedAt          string `json:"loaded_at"`
	}
	out := make([]logJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, logJSON{
			ID:                e.ID,
			EventID:           e.EventID,
			LogLevel:          e.LogLevel,
			Message:           e.Message,
			EventName:         e.EventName,
			EventLocation:     e.EventLocation,
			EventDate:         e.EventDate.Format(dateFormat),
			DataImportedCount: e.DataImportedCount,
			LoadedAt:          e.LoadedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.MigrationVersion()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"schema_version": version,
		"checked_at":     time.Now().UTC().Format(time.RFC3339),
	})
}

// statusForKind maps ingestion failure classes onto HTTP status codes.
// Unavailable means the date is outside the provider window: the request is
// well-formed but cannot be served, so 422 rather than 400.
func statusForKind(kind ingest.Kind) int {
	switch kind {
	case ingest.KindInvalidInput:
		return http.StatusBadRequest
	case ingest.KindUnavailable:
		return http.StatusUnprocessableEntity
	case ingest.KindTransport, ingest.KindSchema:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
