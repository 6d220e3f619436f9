package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/caiofh/showweather/internal/api"
	"github.com/caiofh/showweather/internal/ingest"
	"github.com/caiofh/showweather/internal/models"
	"github.com/caiofh/showweather/internal/store"
	"github.com/caiofh/showweather/internal/weatherapi"
)

type stubProvider struct {
	err error
}

func (p *stubProvider) Name() string { return "WeatherAPI.com" }

func (p *stubProvider) FetchForecast(ctx context.Context, location string, date time.Time) (*models.Forecast, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &models.Forecast{
		Temperature:        sql.NullFloat64{Float64: 28.5, Valid: true},
		WindSpeed:          sql.NullFloat64{Float64: 3.0, Valid: true},
		WeatherMain:        "Clear",
		WeatherDescription: "Clear",
	}, nil
}

func setupServer(t *testing.T, provider ingest.Provider) (*api.Server, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatal(err)
	}

	clock := clockwork.NewFakeClockAt(time.Date(2025, 8, 19, 12, 0, 0, 0, time.UTC))
	ing := ingest.New(st, provider, clock)
	return api.NewServer(st, ing, "8080"), st
}

func doJSON(t *testing.T, srv *api.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

const ingestBody = `{"event_name":"Festival de Inverno","event_location":"Cuiaba, Brazil","event_date":"2025-08-20"}`

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	w := doJSON(t, srv, "GET", "/health", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s, want status ok", w.Body.String())
	}
}

func TestListRecords_Empty(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	w := doJSON(t, srv, "GET", "/api/records", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestIngestEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	w := doJSON(t, srv, "POST", "/api/ingest", ingestBody)
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var rec struct {
		EventID     string   `json:"event_id"`
		LoadVersion int      `json:"load_version"`
		Temperature *float64 `json:"temperature"`
		Pressure    *float64 `json:"pressure"`
		EventDate   string   `json:"event_date"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if rec.EventID != "CUIABABRAZIL_20250820" {
		t.Errorf("event_id = %q, want CUIABABRAZIL_20250820", rec.EventID)
	}
	if rec.LoadVersion != 1 {
		t.Errorf("load_version = %d, want 1", rec.LoadVersion)
	}
	if rec.Temperature == nil || *rec.Temperature != 28.5 {
		t.Errorf("temperature = %v, want 28.5", rec.Temperature)
	}
	if rec.Pressure != nil {
		t.Errorf("pressure = %v, want null", *rec.Pressure)
	}
	if !strings.Contains(w.Body.String(), `"pressure":null`) {
		t.Error("pressure must serialize as explicit null")
	}
	if rec.EventDate != "2025-08-20" {
		t.Errorf("event_date = %q, want 2025-08-20", rec.EventDate)
	}
}

func TestIngestEndpoint_RepeatReturnsExisting(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	if w := doJSON(t, srv, "POST", "/api/ingest", ingestBody); w.Code != 201 {
		t.Fatalf("first ingest: %d", w.Code)
	}
	// Nothing is created on the repeat, so 200 rather than 201.
	w := doJSON(t, srv, "POST", "/api/ingest", ingestBody)
	if w.Code != 200 {
		t.Fatalf("repeat ingest: %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"load_version":1`) {
		t.Errorf("body = %s, want version 1 returned again", w.Body.String())
	}
}

func TestIngestEndpoint_Refresh(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	if w := doJSON(t, srv, "POST", "/api/ingest", ingestBody); w.Code != 201 {
		t.Fatalf("first ingest: %d", w.Code)
	}

	refreshBody := strings.TrimSuffix(ingestBody, "}") + `,"refresh":true}`
	w := doJSON(t, srv, "POST", "/api/ingest", refreshBody)
	if w.Code != 201 {
		t.Fatalf("refresh ingest: %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"load_version":2`) {
		t.Errorf("body = %s, want version 2", w.Body.String())
	}
}

func TestIngestEndpoint_BadRequests(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"bad date", `{"event_name":"E","event_location":"L","event_date":"20/08/2025"}`},
		{"missing name", `{"event_location":"Cuiaba, Brazil","event_date":"2025-08-20"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv, "POST", "/api/ingest", tt.body)
			if w.Code != 400 {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestIngestEndpoint_OutOfWindow(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{
		err: fmt.Errorf("%w: 2025-09-20", weatherapi.ErrOutOfWindow),
	})

	w := doJSON(t, srv, "POST", "/api/ingest", ingestBody)
	if w.Code != 422 {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIngestEndpoint_ProviderDown(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{
		err: &weatherapi.TransportError{Err: fmt.Errorf("connection refused")},
	})

	w := doJSON(t, srv, "POST", "/api/ingest", ingestBody)
	if w.Code != 502 {
		t.Errorf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLatestRecord(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	if w := doJSON(t, srv, "POST", "/api/ingest", ingestBody); w.Code != 201 {
		t.Fatalf("ingest: %d", w.Code)
	}

	w := doJSON(t, srv, "GET", "/api/records/cuiababrazil_20250820/latest", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"event_id":"CUIABABRAZIL_20250820"`) {
		t.Errorf("body = %s, want stored event id", w.Body.String())
	}
}

func TestLatestRecord_NotFound(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	w := doJSON(t, srv, "GET", "/api/records/MISSING_20250101/latest", "")
	if w.Code != 404 {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListRecords_Filters(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	if w := doJSON(t, srv, "POST", "/api/ingest", ingestBody); w.Code != 201 {
		t.Fatalf("ingest: %d", w.Code)
	}

	w := doJSON(t, srv, "GET", "/api/records?event_location=Brazil", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "CUIABABRAZIL_20250820") {
		t.Errorf("body = %s, want matching record", w.Body.String())
	}

	w = doJSON(t, srv, "GET", "/api/records?event_location=Argentina", "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("non-matching filter body = %q, want empty array", got)
	}

	w = doJSON(t, srv, "GET", "/api/records?event_date=not-a-date", "")
	if w.Code != 400 {
		t.Errorf("bad date filter: expected 400, got %d", w.Code)
	}
}

func TestLogsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	if w := doJSON(t, srv, "POST", "/api/ingest", ingestBody); w.Code != 201 {
		t.Fatalf("ingest: %d", w.Code)
	}

	w := doJSON(t, srv, "GET", "/api/logs?event_id=CUIABABRAZIL_20250820", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"log_level":"SUCCESS"`) {
		t.Errorf("body = %s, want SUCCESS entry", w.Body.String())
	}

	w = doJSON(t, srv, "GET", "/api/logs?limit=abc", "")
	if w.Code != 400 {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t, &stubProvider{})

	w := doJSON(t, srv, "GET", "/metrics", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default runtime metrics in output")
	}
}
