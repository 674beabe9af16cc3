package pipeline

import (
	"context"

	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

const engagementSystem = `You are an engagement manager reviewing a demo plan
against the customer's requirements. You flag requirements the plan does not
cover, ambiguities in the source document, and missing information the team
must chase before the demo. Every gap must cite a source chunk id.`

const engagementSchema = `{
  "gaps": [
    {
      "id": "GAP-001",
      "type": "coverage|ambiguity|missing_info",
      "severity": "high|medium|low",
      "description": "...",
      "evidence_refs": [{"chunk_id": "...", "quote": "..."}],
      "next_step": "..."
    }
  ]
}`

// Engagement is the engagement_manager stage: it cross-checks the demo
// brief against the deal context and reports coverage gaps. An empty gap
// list is a valid result.
type Engagement struct {
	generation contracts.GenerationDriver
	maxRetries int
}

// NewEngagement creates the engagement_manager stage.
func NewEngagement(generation contracts.GenerationDriver, maxRetries int) *Engagement {
	return &Engagement{generation: generation, maxRetries: maxRetries}
}

func (e *Engagement) Name() string                     { return StageEngagementManager }
func (e *Engagement) RunningStatus() models.DealStatus { return models.DealGapAnalysis }
func (e *Engagement) Produces() models.ArtifactKind    { return models.ArtifactGapAnalysis }

// Run produces the gap analysis from the deal_context and demo_brief
// artifacts.
func (e *Engagement) Run(ctx context.Context, deal *models.Deal, prior models.ArtifactSet) (*models.Artifact, error) {
	contextArtifact, err := prior.Get(models.ArtifactDealContext)
	if err != nil {
		return nil, err
	}
	briefArtifact, err := prior.Get(models.ArtifactDemoBrief)
	if err != nil {
		return nil, err
	}

	prompt := "Compare the demo plan against the requirements and report gaps." +
		" Number gaps GAP-001, GAP-002, ... and cite the chunk ids the evidence" +
		" comes from. Return an empty gaps list if the plan covers everything.\n\n" +
		"Extracted deal context:\n" + contextArtifact.Content +
		"\n\nDemo plan:\n" + briefArtifact.Content

	var analysis models.GapAnalysis
	err = generateValidated(ctx, e.generation, e.Name(), contracts.GenerateRequest{
		System:     engagementSystem,
		Prompt:     prompt,
		SchemaHint: engagementSchema,
		Language:   deal.Language,
	}, e.maxRetries, &analysis, analysis.Validate)
	if err != nil {
		return nil, err
	}

	return jsonArtifact(deal.ID, models.ArtifactGapAnalysis, &analysis)
}
