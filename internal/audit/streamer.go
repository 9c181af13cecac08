package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/store"
)

// StreamerConfig configures the outcome event streamer.
type StreamerConfig struct {
	// How many events to fetch per round.
	BatchSize int

	// PollInterval when there is no work (or after a batch).
	PollInterval time.Duration

	// MaxConcurrency bounds concurrent processing within a batch.
	MaxConcurrency int

	// MaxAttempts is how many publish rounds an event gets before it is
	// parked as failed.
	MaxAttempts int
}

// Streamer drains pending outcome events: each event is published to
// Kafka, assignment events are additionally archived to object storage,
// and the row is marked sent. A failed round leaves the event pending for
// the next poll until MaxAttempts, then marks it failed. The archiver is
// optional.
type Streamer struct {
	store    store.Store
	producer Producer
	archiver Archiver
	cfg      StreamerConfig

	wg sync.WaitGroup
}

// NewStreamer constructs a streamer. Zero cfg fields get defaults.
func NewStreamer(st store.Store, producer Producer, archiver Archiver, cfg StreamerConfig) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Streamer{
		store:    st,
		producer: producer,
		archiver: archiver,
		cfg:      cfg,
	}
}

// Run polls for pending events until ctx is cancelled. Safe to run in a
// goroutine; the producer is closed on the way out.
func (s *Streamer) Run(ctx context.Context) error {
	log.Printf("[audit] streamer starting (batch=%d, concurrency=%d)", s.cfg.BatchSize, s.cfg.MaxConcurrency)
	defer log.Printf("[audit] streamer stopped")

	sem := make(chan struct{}, s.cfg.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if s.producer != nil {
				_ = s.producer.Close()
			}
			return ctx.Err()
		default:
		}

		events, err := s.store.FetchPendingOutcomeEvents(ctx, s.cfg.BatchSize)
		if err != nil {
			log.Printf("[audit] fetch pending events: %v", err)
			s.sleep(ctx)
			continue
		}
		if len(events) == 0 {
			s.sleep(ctx)
			continue
		}

		// Bounded concurrency within the batch; drain before fetching
		// more so a slow event cannot be refetched mid-flight.
		var batch sync.WaitGroup
		for _, ev := range events {
			if ctx.Err() != nil {
				break
			}
			sem <- struct{}{}
			batch.Add(1)
			s.wg.Add(1)
			go func(ev models.OutcomeEvent) {
				defer func() {
					<-sem
					batch.Done()
					s.wg.Done()
				}()
				if err := s.processEvent(ctx, ev); err != nil {
					log.Printf("[audit] process event %s: %v", ev.ID, err)
				}
			}(ev)
		}
		batch.Wait()
	}
}

func (s *Streamer) sleep(ctx context.Context) {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

type eventEnvelope struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func envelope(ev models.OutcomeEvent) eventEnvelope {
	return eventEnvelope{
		ID:        ev.ID,
		EventType: ev.EventType,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	}
}

// processEvent performs the produce -> archive -> mark sequence for one
// event and records the result so the database drives retries.
func (s *Streamer) processEvent(parentCtx context.Context, ev models.OutcomeEvent) error {
	// Per-event deadline so a stuck broker cannot wedge a worker.
	ctx, cancel := context.WithTimeout(parentCtx, 30*time.Second)
	defer cancel()

	value, err := json.Marshal(envelope(ev))
	if err != nil {
		return s.recordFailure(parentCtx, ev, fmt.Errorf("encode envelope: %w", err))
	}

	if _, err := s.producer.Produce(ctx, []byte(ev.ID.String()), value); err != nil {
		return s.recordFailure(parentCtx, ev, fmt.Errorf("kafka produce: %w", err))
	}

	archiveKey := ""
	if s.archiver != nil && strings.HasPrefix(ev.EventType, "assignment.") {
		key, err := s.archiver.ArchiveEvent(ctx, ev)
		if err != nil {
			return s.recordFailure(parentCtx, ev, fmt.Errorf("archive: %w", err))
		}
		archiveKey = key
	}

	if err := s.store.MarkOutcomeEventResult(parentCtx, ev.ID, models.StreamSent, archiveKey); err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	return nil
}

// recordFailure counts the attempt. The event stays pending for the next
// round; at MaxAttempts it is parked as failed.
func (s *Streamer) recordFailure(ctx context.Context, ev models.OutcomeEvent, cause error) error {
	status := models.StreamPending
	if ev.Attempts+1 >= s.cfg.MaxAttempts {
		status = models.StreamFailed
	}
	if err := s.store.MarkOutcomeEventResult(ctx, ev.ID, status, ""); err != nil {
		log.Printf("[audit] mark event %s %s: %v", ev.ID, status, err)
	}
	return cause
}
