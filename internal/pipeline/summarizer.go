package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

const summarizerSystem = `You are a presales deal strategist. You write the Deal
Intelligence Core (DIC): a concise markdown brief a sales engineer reads before
the first customer call. You never invent facts beyond the extracted context.`

// Summarizer is the summarizer stage: it condenses the deal context into
// the DIC markdown artifact. Output is free-form markdown, so no schema
// validation applies; an empty response is the only rejection.
type Summarizer struct {
	generation contracts.GenerationDriver
	maxRetries int
}

// NewSummarizer creates the summarizer stage.
func NewSummarizer(generation contracts.GenerationDriver, maxRetries int) *Summarizer {
	return &Summarizer{generation: generation, maxRetries: maxRetries}
}

func (s *Summarizer) Name() string                     { return StageSummarizer }
func (s *Summarizer) RunningStatus() models.DealStatus { return models.DealSummarizing }
func (s *Summarizer) Produces() models.ArtifactKind    { return models.ArtifactDIC }

// Run produces the DIC from the deal_context artifact.
func (s *Summarizer) Run(ctx context.Context, deal *models.Deal, prior models.ArtifactSet) (*models.Artifact, error) {
	contextArtifact, err := prior.Get(models.ArtifactDealContext)
	if err != nil {
		return nil, err
	}

	prompt := "Write the Deal Intelligence Core for this deal as markdown with" +
		" sections: Overview, Customer, Key Requirements (grouped by priority)," +
		" Deadlines, Open Points.\n\nExtracted deal context:\n" + contextArtifact.Content

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
			}
		}

		content, err := s.generation.Generate(ctx, contracts.GenerateRequest{
			System:   summarizerSystem,
			Prompt:   prompt,
			Language: deal.Language,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if content == "" {
			lastErr = fmt.Errorf("empty summary")
			continue
		}

		return &models.Artifact{
			DealID:      deal.ID,
			Kind:        models.ArtifactDIC,
			ContentType: models.ContentMarkdown,
			Content:     content,
			CreatedAt:   time.Now().UTC(),
		}, nil
	}
	return nil, fmt.Errorf("generate summary: %w", lastErr)
}
