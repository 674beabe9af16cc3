package pipeline

import (
	"context"

	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

const architectSystem = `You are a solution architect planning a product demo
for a presales deal. You choose the lightest demo format that credibly covers
the must-have requirements, and you design scenarios that map to requirement
ids.`

const architectSchema = `{
  "demo_type": "standard|custom|poc|workshop",
  "rationale": "...",
  "scenarios": [
    {"id": "S1", "objective": "...", "covers": ["REQ-001", "REQ-002"]}
  ],
  "risks": ["..."]
}`

// Architect is the solution_architect stage: from the deal context it
// recommends a demo approach and concrete scenarios.
type Architect struct {
	generation contracts.GenerationDriver
	maxRetries int
}

// NewArchitect creates the solution_architect stage.
func NewArchitect(generation contracts.GenerationDriver, maxRetries int) *Architect {
	return &Architect{generation: generation, maxRetries: maxRetries}
}

func (a *Architect) Name() string                     { return StageSolutionArchitect }
func (a *Architect) RunningStatus() models.DealStatus { return models.DealArchitecting }
func (a *Architect) Produces() models.ArtifactKind    { return models.ArtifactDemoBrief }

// Run produces the demo brief from the deal_context artifact.
func (a *Architect) Run(ctx context.Context, deal *models.Deal, prior models.ArtifactSet) (*models.Artifact, error) {
	contextArtifact, err := prior.Get(models.ArtifactDealContext)
	if err != nil {
		return nil, err
	}

	prompt := "Recommend a demo approach for this deal. Number scenarios S1," +
		" S2, ... and list the requirement ids each scenario covers.\n\n" +
		"Extracted deal context:\n" + contextArtifact.Content

	var brief models.DemoBrief
	err = generateValidated(ctx, a.generation, a.Name(), contracts.GenerateRequest{
		System:     architectSystem,
		Prompt:     prompt,
		SchemaHint: architectSchema,
		Language:   deal.Language,
	}, a.maxRetries, &brief, brief.Validate)
	if err != nil {
		return nil, err
	}

	return jsonArtifact(deal.ID, models.ArtifactDemoBrief, &brief)
}
