// Package pipeline implements the deal analysis pipeline.
//
// A run moves a deal through five fixed stages:
//  1. ingestion:          extract text, chunk, embed, index
//  2. deal_analyzer:      structured requirement extraction (deal_context)
//  3. summarizer:         Deal Intelligence Core markdown (dic)
//  4. solution_architect: demo recommendation (demo_brief)
//  5. engagement_manager: coverage gap analysis (gap_analysis)
//
// Stages run strictly in order; each sees the artifacts of the stages
// before it. Every stage transition is recorded as an append-only event,
// so clients can poll progress incrementally. A stage failure stops the
// run and moves the deal to the error state; artifacts written before
// the failure stay readable.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

// Stage names, in pipeline order.
const (
	StageIngestion         = "ingestion"
	StageDealAnalyzer      = "deal_analyzer"
	StageSummarizer        = "summarizer"
	StageSolutionArchitect = "solution_architect"
	StageEngagementManager = "engagement_manager"
)

// Agent is one generation stage of the pipeline. Run receives the deal
// and the artifacts produced by earlier stages, and returns the stage's
// own artifact.
type Agent interface {
	// Name returns the stage name (e.g. "deal_analyzer").
	Name() string

	// RunningStatus is the deal status while this stage executes.
	RunningStatus() models.DealStatus

	// Produces is the artifact kind this stage writes.
	Produces() models.ArtifactKind

	// Run executes the stage against the deal and its prior artifacts.
	Run(ctx context.Context, deal *models.Deal, prior models.ArtifactSet) (*models.Artifact, error)
}

// generateValidated calls the generation driver and decodes the output
// into out, retrying with backoff when the model returns something that
// does not decode or validate. The validate func may be nil.
func generateValidated(ctx context.Context, driver contracts.GenerationDriver, stage string, req contracts.GenerateRequest, maxRetries int, out interface{}, validate func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			log.Info().
				Str("stage", stage).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying generation")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		raw, err := driver.Generate(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		if err := json.Unmarshal([]byte(stripCodeFence(raw)), out); err != nil {
			lastErr = fmt.Errorf("decode output: %w", err)
			continue
		}
		if validate != nil {
			if err := validate(); err != nil {
				lastErr = fmt.Errorf("validate output: %w", err)
				continue
			}
		}
		return nil
	}

	return &SchemaValidationError{Stage: stage, Attempts: maxRetries + 1, Err: lastErr}
}

// stripCodeFence removes a surrounding markdown code fence, which some
// models wrap JSON output in despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// jsonArtifact marshals v into an immutable JSON artifact for the deal.
func jsonArtifact(dealID string, kind models.ArtifactKind, v interface{}) (*models.Artifact, error) {
	content, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s artifact: %w", kind, err)
	}
	return &models.Artifact{
		DealID:      dealID,
		Kind:        kind,
		ContentType: models.ContentJSON,
		Content:     string(content),
		CreatedAt:   time.Now().UTC(),
	}, nil
}
