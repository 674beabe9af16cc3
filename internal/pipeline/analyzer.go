package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

const analyzerSystem = `You are a senior presales analyst. You extract customer
requirements from RfX documents (RFPs, RFIs, RFQs, tenders). You only state
what the document supports and you cite the chunk ids you were given.`

const analyzerSchema = `{
  "document_metadata": {
    "rfx_type": "rfp|rfi|rfq|tender|other",
    "title": "...",
    "customer_name": "...",
    "issuing_org": "...",
    "submission_deadline": "..."
  },
  "requirements": [
    {
      "id": "REQ-001",
      "text": "...",
      "priority": "must|should|could|unknown",
      "evidence_refs": [{"chunk_id": "...", "quote": "..."}]
    }
  ],
  "relevant_chunk_ids": ["..."]
}`

// Analyzer is the deal_analyzer stage: it reads every indexed chunk of
// the deal's document and extracts the structured deal context, the
// requirement list every later stage builds on.
type Analyzer struct {
	generation contracts.GenerationDriver
	index      contracts.VectorIndex
	maxRetries int
}

// NewAnalyzer creates the deal_analyzer stage.
func NewAnalyzer(generation contracts.GenerationDriver, index contracts.VectorIndex, maxRetries int) *Analyzer {
	return &Analyzer{generation: generation, index: index, maxRetries: maxRetries}
}

func (a *Analyzer) Name() string                     { return StageDealAnalyzer }
func (a *Analyzer) RunningStatus() models.DealStatus { return models.DealAnalyzing }
func (a *Analyzer) Produces() models.ArtifactKind    { return models.ArtifactDealContext }

// Run extracts the deal context from the deal's indexed chunks.
func (a *Analyzer) Run(ctx context.Context, deal *models.Deal, _ models.ArtifactSet) (*models.Artifact, error) {
	docs, err := a.index.List(ctx, deal.ID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no chunks indexed for deal")
	}

	var b strings.Builder
	b.WriteString("Extract all customer requirements from this document.\n")
	b.WriteString("Number requirements REQ-001, REQ-002, ... in document order.\n")
	b.WriteString("Cite evidence using the chunk ids below.\n\n")
	for _, doc := range docs {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", doc.ChunkID, doc.Text)
	}

	var dealCtx models.DealContext
	err = generateValidated(ctx, a.generation, a.Name(), contracts.GenerateRequest{
		System:     analyzerSystem,
		Prompt:     b.String(),
		SchemaHint: analyzerSchema,
		Language:   deal.Language,
	}, a.maxRetries, &dealCtx, dealCtx.Validate)
	if err != nil {
		return nil, err
	}

	return jsonArtifact(deal.ID, models.ArtifactDealContext, &dealCtx)
}
