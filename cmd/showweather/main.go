package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/caiofh/showweather/internal/api"
	"github.com/caiofh/showweather/internal/ingest"
	"github.com/caiofh/showweather/internal/store"
	"github.com/caiofh/showweather/internal/weatherapi"
)

type cli struct {
	DB     string `env:"SHOWWEATHER_DB" default:"data/showweather.db" help:"Path to SQLite database."`
	APIKey string `env:"WEATHER_API_KEY" required:"" help:"WeatherAPI.com API key."`

	Serve   serveCmd   `cmd:"" default:"withargs" help:"Run the HTTP server and refresh scheduler."`
	Ingest  ingestCmd  `cmd:"" help:"Ingest weather data for one event and exit."`
	Refresh refreshCmd `cmd:"" help:"Refresh all upcoming events and exit."`
}

type app struct {
	store    *store.Store
	provider *weatherapi.Client
	ingestor *ingest.Ingestor
}

type serveCmd struct {
	Port            string        `env:"SHOWWEATHER_PORT" default:"8080" help:"HTTP listen port."`
	NoRefresh       bool          `help:"Disable the background refresh scheduler."`
	RefreshInterval time.Duration `env:"SHOWWEATHER_REFRESH_INTERVAL" default:"6h" help:"Interval between refresh passes."`
}

func (c *serveCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoRefresh {
		scheduler := ingest.NewScheduler(a.store, a.ingestor, a.provider.Window(), c.RefreshInterval)
		go scheduler.Run(ctx)
	} else {
		log.Println("refresh scheduler disabled (--no-refresh)")
	}

	server := api.NewServer(a.store, a.ingestor, c.Port)
	log.Printf("starting server on :%s", c.Port)
	return server.Run(ctx)
}

type ingestCmd struct {
	EventName string `arg:"" help:"Event name."`
	Location  string `arg:"" help:"Event location, e.g. 'Cuiaba, Brazil'."`
	Date      string `arg:"" help:"Event date (YYYY-MM-DD)."`
	EventID   string `help:"Override the derived event id."`
	Refresh   bool   `help:"Load a fresh version even when one already exists."`
}

func (c *ingestCmd) Run(a *app) error {
	date, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", c.Date, err)
	}

	req := ingest.Request{
		EventName: c.EventName,
		Location:  c.Location,
		Date:      date,
		EventID:   c.EventID,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if c.Refresh {
		rec, err := a.ingestor.Refresh(ctx, req)
		if err != nil {
			return err
		}
		log.Printf("loaded %s version %d", rec.EventID, rec.LoadVersion)
		return nil
	}

	rec, created, err := a.ingestor.Ingest(ctx, req)
	if err != nil {
		return err
	}
	if created {
		log.Printf("loaded %s version %d", rec.EventID, rec.LoadVersion)
	} else {
		log.Printf("%s already loaded (version %d)", rec.EventID, rec.LoadVersion)
	}
	return nil
}

type refreshCmd struct{}

func (c *refreshCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scheduler := ingest.NewScheduler(a.store, a.ingestor, a.provider.Window(), 0)
	scheduler.RefreshOnce(ctx)
	return nil
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("showweather"),
		kong.Description("Versioned weather forecast ingestion for events."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	db, err := sql.Open("sqlite", flags.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	provider := weatherapi.New(weatherapi.Config{APIKey: flags.APIKey})
	ingestor := ingest.New(st, provider, nil)

	kctx.FatalIfErrorf(kctx.Run(&app{
		store:    st,
		provider: provider,
		ingestor: ingestor,
	}))
}
