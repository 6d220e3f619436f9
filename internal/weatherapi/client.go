// Package weatherapi wraps the WeatherAPI.com forecast endpoint and
// normalizes its responses into the canonical forecast schema.
package weatherapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/caiofh/showweather/internal/httputil"
	"github.com/caiofh/showweather/internal/metrics"
	"github.com/caiofh/showweather/internal/models"
)

// SourceName is recorded as api_source on every persisted record.
const SourceName = "WeatherAPI.com"

const (
	defaultBaseURL         = "https://api.weatherapi.com/v1"
	defaultMaxForecastDays = 3
	defaultRetryMaxElapsed = 30 * time.Second
)

var (
	// ErrOutOfWindow means the requested date is outside the provider's
	// forecast window. Not a transport failure; the provider was never called.
	ErrOutOfWindow = errors.New("weatherapi: date outside forecast window")

	// ErrNoForecastDay means the response carried no entry for the requested
	// date even though the date was nominally in range.
	ErrNoForecastDay = errors.New("weatherapi: no forecast entry for date")
)

// TransportError wraps network, timeout and HTTP-level failures. Callers may
// retry these.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "weatherapi: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// SchemaError means the provider responded with an unexpected shape. Not
// retryable without investigation; Body carries truncated payload context.
type SchemaError struct {
	Msg  string
	Body string
}

func (e *SchemaError) Error() string { return "weatherapi: " + e.Msg }

// Config carries everything the client needs; the API key is injected here
// rather than read from process-wide state.
type Config struct {
	APIKey          string
	BaseURL         string        // defaults to the public WeatherAPI endpoint
	MaxForecastDays int           // free-plan lookahead window, defaults to 3
	Timeout         time.Duration // outbound HTTP timeout
	RetryMaxElapsed time.Duration // total budget for transient retries
	Clock           clockwork.Clock
}

// Client fetches daily forecasts from WeatherAPI.com.
type Client struct {
	apiKey          string
	baseURL         string
	maxForecastDays int
	retryMaxElapsed time.Duration
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker
	clock           clockwork.Clock
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxForecastDays <= 0 {
		cfg.MaxForecastDays = defaultMaxForecastDays
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = defaultRetryMaxElapsed
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weatherapi",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		maxForecastDays: cfg.MaxForecastDays,
		retryMaxElapsed: cfg.RetryMaxElapsed,
		httpClient:      httputil.NewClientWithTimeout(cfg.Timeout),
		breaker:         breaker,
		clock:           cfg.Clock,
	}
}

func (c *Client) Name() string { return SourceName }

// Window returns the provider's forecast lookahead in days.
func (c *Client) Window() int { return c.maxForecastDays }

// FetchForecast returns the normalized forecast for location on targetDate.
// Dates outside [today, today+window) return ErrOutOfWindow without issuing
// a request. Exactly one outbound request is made per call; the response's
// per-day entries are matched to targetDate by calendar-date equality.
func (c *Client) FetchForecast(ctx context.Context, location string, targetDate time.Time) (*models.Forecast, error) {
	today := dateOnly(c.clock.Now().UTC())
	target := dateOnly(targetDate)

	// The free plan covers today plus the next maxForecastDays-1 days.
	days := int(target.Sub(today).Hours()/24) + 1
	if days < 1 || days > c.maxForecastDays {
		return nil, fmt.Errorf("%w: %s is not within %d days of %s",
			ErrOutOfWindow, target.Format("2006-01-02"), c.maxForecastDays, today.Format("2006-01-02"))
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("q", location)
	params.Set("days", strconv.Itoa(days))
	params.Set("aqi", "no")
	params.Set("alerts", "no")

	body, err := c.get(ctx, c.baseURL+"/forecast.json?"+params.Encode())
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	var data forecastResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &SchemaError{Msg: "unmarshal: " + err.Error(), Body: truncateBody(body)}
	}
	if len(data.Forecast.ForecastDay) == 0 {
		return nil, &SchemaError{Msg: "missing forecast.forecastday", Body: truncateBody(body)}
	}

	want := target.Format("2006-01-02")
	for _, fd := range data.Forecast.ForecastDay {
		if fd.Date != want {
			continue
		}
		if fd.Day == nil {
			return nil, &SchemaError{Msg: "forecastday entry missing day block", Body: truncateBody(body)}
		}
		return normalizeDay(fd.Day), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNoForecastDay, want)
}

// get performs the outbound request with transient retries behind a circuit
// breaker. Rate limiting and server errors retry; other failures are
// permanent.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	var body []byte
	status := "error"
	start := c.clock.Now()

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetch forecast: %w", err)
		}
		defer resp.Body.Close()

		status = strconv.Itoa(resp.StatusCode)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("fetch forecast: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch forecast: status %d: %s", resp.StatusCode, truncateBody(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		status = "200"
		return nil
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = c.retryMaxElapsed
		return nil, backoff.Retry(operation, backoff.WithContext(bo, ctx))
	})

	metrics.ProviderAPILatency.WithLabelValues(SourceName).Observe(c.clock.Since(start).Seconds())
	metrics.ProviderAPICallsTotal.WithLabelValues(SourceName, status).Inc()

	if err != nil {
		return nil, err
	}
	return body, nil
}

type forecastResponse struct {
	Forecast struct {
		ForecastDay []struct {
			Date string       `json:"date"`
			Day  *forecastDay `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

type forecastDay struct {
	AvgTempC    *float64 `json:"avgtemp_c"`
	MinTempC    *float64 `json:"mintemp_c"`
	MaxTempC    *float64 `json:"maxtemp_c"`
	AvgHumidity *float64 `json:"avghumidity"`
	MaxWindKph  *float64 `json:"maxwind_kph"`
	Condition   struct {
		Text string `json:"text"`
		Code int    `json:"code"`
	} `json:"condition"`
}

// normalizeDay converts one provider day summary into the canonical schema.
// Temperatures and humidity pass through unchanged, wind converts from km/h
// to m/s, and pressure stays null: the day summary does not report it.
func normalizeDay(d *forecastDay) *models.Forecast {
	f := &models.Forecast{}

	if d.AvgTempC != nil {
		f.Temperature = nullFloat(*d.AvgTempC)
		// The day summary has no feels-like field; the average temperature
		// stands in for it.
		f.FeelsLike = nullFloat(*d.AvgTempC)
	}
	if d.MinTempC != nil {
		f.MinTemperature = nullFloat(*d.MinTempC)
	}
	if d.MaxTempC != nil {
		f.MaxTemperature = nullFloat(*d.MaxTempC)
	}
	if d.AvgHumidity != nil {
		f.Humidity = nullFloat(*d.AvgHumidity)
	}
	if d.MaxWindKph != nil {
		f.WindSpeed = nullFloat(math.Round(*d.MaxWindKph/3.6*100) / 100)
	}

	text := strings.TrimSpace(d.Condition.Text)
	if text == "" {
		text = conditionDescription(d.Condition.Code)
	}
	f.WeatherMain = text
	f.WeatherDescription = text

	return f
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "...(truncated)"
}
