package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dealdesk/dealdesk/internal/rag"
	"github.com/dealdesk/dealdesk/internal/store"
	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

// Runner owns pipeline execution. It enforces one active run per deal,
// drives the stage sequence in a background goroutine, and records every
// transition in the deal's event log.
type Runner struct {
	store     store.Store
	extractor contracts.TextExtractor
	ingester  *rag.Ingester
	agents    []Agent

	// Active runs: dealID → cancel func. Membership in this map is the
	// exclusivity authority, not the deal status in the store.
	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// NewRunner creates a pipeline runner. Agents execute in the given order.
func NewRunner(s store.Store, extractor contracts.TextExtractor, ingester *rag.Ingester, agents []Agent) *Runner {
	return &Runner{
		store:     s,
		extractor: extractor,
		ingester:  ingester,
		agents:    agents,
		active:    make(map[string]context.CancelFunc),
	}
}

// Start begins an async pipeline run for the submitted document and
// returns the deal record immediately. A second Start for the same deal
// while a run is in flight returns ErrAlreadyRunning. Restarting a deal
// in a terminal state is allowed: the run replaces the deal's artifacts
// and chunks, and its event log keeps growing from where it left off.
func (r *Runner) Start(ctx context.Context, req *models.SubmitDealRequest) (*models.Deal, error) {
	dealID := req.DealID
	if dealID == "" {
		dealID = uuid.New().String()
	}

	execCtx, cancel := context.WithCancel(context.Background())
	r.activeMu.Lock()
	if _, running := r.active[dealID]; running {
		r.activeMu.Unlock()
		cancel()
		return nil, fmt.Errorf("deal %s: %w", dealID, ErrAlreadyRunning)
	}
	r.active[dealID] = cancel
	r.activeMu.Unlock()

	deal, err := r.prepareDeal(ctx, dealID, req)
	if err != nil {
		r.release(dealID)
		return nil, err
	}

	log.Info().
		Str("deal_id", deal.ID).
		Str("filename", deal.Filename).
		Str("language", deal.Language).
		Msg("Pipeline run started")

	go r.run(execCtx, deal, req.Content)

	result := *deal
	return &result, nil
}

// Running reports whether a pipeline run is active for the deal.
func (r *Runner) Running(dealID string) bool {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	_, ok := r.active[dealID]
	return ok
}

// prepareDeal creates or resets the deal record and clears artifacts left
// over from a previous run.
func (r *Runner) prepareDeal(ctx context.Context, dealID string, req *models.SubmitDealRequest) (*models.Deal, error) {
	now := time.Now().UTC()
	deal := &models.Deal{
		ID:        dealID,
		Filename:  req.Filename,
		Language:  req.Language,
		SessionID: uuid.New().String(),
		Status:    models.DealPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	existing, err := r.store.GetDeal(ctx, dealID)
	switch {
	case err == nil:
		if !existing.Status.Terminal() {
			// A stale non-terminal status (e.g. after a crash) is
			// overridden; the active map already granted exclusivity.
			log.Warn().
				Str("deal_id", dealID).
				Str("status", string(existing.Status)).
				Msg("Restarting deal left in non-terminal state")
		}
		deal.SessionID = existing.SessionID
		deal.CreatedAt = existing.CreatedAt
	case store.IsNotFound(err):
	default:
		return nil, fmt.Errorf("load deal: %w", err)
	}

	if err := r.store.PutDeal(ctx, deal); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}
	if err := r.store.DeleteArtifacts(ctx, dealID); err != nil {
		return nil, fmt.Errorf("clear artifacts: %w", err)
	}
	return deal, nil
}

// ── Run execution ───────────────────────────────────────────

func (r *Runner) run(ctx context.Context, deal *models.Deal, content string) {
	defer r.release(deal.ID)

	start := time.Now()

	if err := r.runIngestion(ctx, deal, content); err != nil {
		r.failRun(deal, StageIngestion, err)
		return
	}

	artifacts := models.ArtifactSet{}
	for _, agent := range r.agents {
		if err := r.runAgent(ctx, deal, agent, artifacts); err != nil {
			r.failRun(deal, agent.Name(), err)
			return
		}
	}

	if err := r.setStatus(deal, models.DealReady); err != nil {
		r.failRun(deal, StageEngagementManager, err)
		return
	}

	log.Info().
		Str("deal_id", deal.ID).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Int("artifacts", len(artifacts)).
		Msg("Pipeline run completed")
}

// runIngestion extracts, chunks, embeds, and indexes the document.
func (r *Runner) runIngestion(ctx context.Context, deal *models.Deal, content string) error {
	if err := r.setStatus(deal, models.DealIngesting); err != nil {
		return err
	}
	if err := r.emit(deal.ID, models.EventStageStarted, StageIngestion, "document ingestion started", nil); err != nil {
		return err
	}

	text, err := r.extractor.Extract(ctx, deal.Filename, []byte(content))
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	chunks, err := r.ingester.Replace(ctx, deal.ID, text)
	if err != nil {
		return fmt.Errorf("index document: %w", err)
	}

	return r.emit(deal.ID, models.EventStageCompleted, StageIngestion, "document ingestion completed",
		map[string]interface{}{"chunks": chunks})
}

// runAgent executes one generation stage and persists its artifact.
func (r *Runner) runAgent(ctx context.Context, deal *models.Deal, agent Agent, artifacts models.ArtifactSet) error {
	if err := r.setStatus(deal, agent.RunningStatus()); err != nil {
		return err
	}
	if err := r.emit(deal.ID, models.EventStageStarted, agent.Name(), agent.Name()+" started", nil); err != nil {
		return err
	}

	stageStart := time.Now()
	artifact, err := agent.Run(ctx, deal, artifacts)
	if err != nil {
		return err
	}

	if err := r.store.PutArtifact(context.Background(), artifact); err != nil {
		return fmt.Errorf("store %s artifact: %w", artifact.Kind, err)
	}
	artifacts[artifact.Kind] = artifact

	if err := r.emit(deal.ID, models.EventArtifactReady, agent.Name(), string(artifact.Kind)+" artifact ready",
		map[string]interface{}{"kind": string(artifact.Kind)}); err != nil {
		return err
	}
	if err := r.emit(deal.ID, models.EventStageCompleted, agent.Name(), agent.Name()+" completed",
		map[string]interface{}{"duration_ms": time.Since(stageStart).Milliseconds()}); err != nil {
		return err
	}

	log.Info().
		Str("deal_id", deal.ID).
		Str("stage", agent.Name()).
		Int64("duration_ms", time.Since(stageStart).Milliseconds()).
		Msg("Stage completed")
	return nil
}

// ── Run lifecycle ───────────────────────────────────────────

func (r *Runner) failRun(deal *models.Deal, stage string, err error) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
	}

	deal.Status = models.DealError
	deal.ErrorDetail = &models.ErrorDetail{Stage: stage, Message: err.Error()}
	deal.UpdatedAt = time.Now().UTC()
	if putErr := r.store.PutDeal(context.Background(), deal); putErr != nil {
		log.Error().Err(putErr).Str("deal_id", deal.ID).Msg("Failed to persist deal error state")
	}

	// Best effort: the deal is already in the error state either way.
	if emitErr := r.emit(deal.ID, models.EventError, stage, err.Error(), nil); emitErr != nil {
		log.Error().Err(emitErr).Str("deal_id", deal.ID).Str("stage", stage).Msg("Failed to record error event")
	}

	log.Error().
		Str("deal_id", deal.ID).
		Str("stage", stage).
		Err(err).
		Msg("Pipeline run failed")
}

func (r *Runner) setStatus(deal *models.Deal, status models.DealStatus) error {
	deal.Status = status
	deal.ErrorDetail = nil
	deal.UpdatedAt = time.Now().UTC()
	if err := r.store.PutDeal(context.Background(), deal); err != nil {
		return fmt.Errorf("update deal status: %w", err)
	}
	return nil
}

// emit appends a progress event. A stage is only complete once its
// events are durably recorded, so append failures fail the stage; a
// failed append consumes no id and the sequence stays gapless.
func (r *Runner) emit(dealID string, kind models.EventKind, stage, message string, payload map[string]interface{}) error {
	_, err := r.store.AppendEvent(context.Background(), &models.Event{
		DealID:    dealID,
		Kind:      kind,
		Stage:     stage,
		Message:   message,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}

func (r *Runner) release(dealID string) {
	r.activeMu.Lock()
	if cancel, ok := r.active[dealID]; ok {
		cancel()
		delete(r.active, dealID)
	}
	r.activeMu.Unlock()
}
