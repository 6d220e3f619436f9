package ingest

import (
	"context"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/caiofh/showweather/internal/models"
)

const defaultRefreshInterval = 6 * time.Hour

// EventLister supplies the stored events whose dates are still ahead.
type EventLister interface {
	UpcomingEvents(start, end time.Time) ([]models.EventRef, error)
}

// Scheduler periodically re-ingests events whose date is still inside the
// provider's forecast window, so stored forecasts track provider updates as
// the event approaches.
type Scheduler struct {
	events   EventLister
	ingestor *Ingestor
	window   int // provider lookahead in days
	interval time.Duration
	clock    clockwork.Clock
}

func NewScheduler(events EventLister, ingestor *Ingestor, window int, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	if window <= 0 {
		window = 1
	}
	return &Scheduler{
		events:   events,
		ingestor: ingestor,
		window:   window,
		interval: interval,
		clock:    ingestor.clock,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.RefreshOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-ticker.C:
			s.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce re-ingests every event still inside the forecast window.
// Individual failures are logged and do not stop the pass.
func (s *Scheduler) RefreshOnce(ctx context.Context) {
	now := s.clock.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, s.window-1)

	events, err := s.events.UpcomingEvents(start, end)
	if err != nil {
		log.Printf("scheduler: list upcoming events: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}

	log.Printf("scheduler: refreshing %d upcoming events", len(events))
	refreshed := 0
	for _, ev := range events {
		req := Request{
			EventName: ev.EventName,
			Location:  ev.EventLocation,
			Date:      ev.EventDate,
			EventID:   ev.EventID,
		}
		if _, err := s.ingestor.Refresh(ctx, req); err != nil {
			log.Printf("scheduler: refresh %s: %v", ev.EventID, err)
			continue
		}
		refreshed++
	}
	log.Printf("scheduler: refreshed %d/%d events", refreshed, len(events))
}
