// Package chat implements deal-grounded conversations: the context
// assembler builds the prompt context from a ready deal's artifacts and
// chunk index, and the session manager owns conversation state.
package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/dealdesk/dealdesk/internal/rag"
	"github.com/dealdesk/dealdesk/internal/store"
	"github.com/dealdesk/dealdesk/pkg/models"
)

// Assembler builds the grounding context for one chat turn. Sections are
// assembled in fixed precedence: DIC, demo brief, gap analysis, retrieved
// chunks, trailing history. When the result exceeds the character budget,
// history turns are dropped oldest-first, then chunks lowest-ranked
// first. The DIC, brief, and gap sections are never truncated. The same
// deal state and question always produce the same context.
type Assembler struct {
	store     store.Store
	retriever *rag.Retriever
	budget    int // max assembled context size in runes
}

// NewAssembler creates a context assembler with the given rune budget.
func NewAssembler(s store.Store, retriever *rag.Retriever, budget int) *Assembler {
	if budget <= 0 {
		budget = 12000
	}
	return &Assembler{store: s, retriever: retriever, budget: budget}
}

// Assemble gates on the deal's pipeline state and returns the context
// block for the question. Retrieval only happens after the gate passes:
// a deal that is still processing or in error never touches the index.
func (a *Assembler) Assemble(ctx context.Context, dealID, question string, history []models.ChatMessage) (string, error) {
	deal, err := a.store.GetDeal(ctx, dealID)
	if err != nil {
		return "", err
	}
	if deal.Status == models.DealError {
		return "", &InErrorStateError{DealID: dealID, Detail: deal.ErrorDetail}
	}
	if deal.Status != models.DealReady {
		return "", &NotReadyError{DealID: dealID, Status: deal.Status}
	}

	artifacts, err := a.store.ListArtifacts(ctx, dealID)
	if err != nil {
		return "", fmt.Errorf("load artifacts: %w", err)
	}

	results, err := a.retriever.Retrieve(ctx, dealID, question)
	if err != nil {
		return "", fmt.Errorf("retrieve chunks: %w", err)
	}

	fixed := fixedSections(artifacts)
	chunks := chunkSections(results)
	turns := historySection(history)

	// Fit under budget: drop history oldest-first, then chunks
	// lowest-ranked first. The fixed sections always survive.
	used := sectionLen(fixed)
	for _, c := range chunks {
		used += utf8.RuneCountInString(c)
	}
	for _, t := range turns {
		used += utf8.RuneCountInString(t)
	}
	for used > a.budget && len(turns) > 0 {
		used -= utf8.RuneCountInString(turns[0])
		turns = turns[1:]
	}
	for used > a.budget && len(chunks) > 0 {
		used -= utf8.RuneCountInString(chunks[len(chunks)-1])
		chunks = chunks[:len(chunks)-1]
	}
	if used > a.budget {
		log.Warn().
			Str("deal_id", dealID).
			Int("size", used).
			Int("budget", a.budget).
			Msg("Context exceeds budget after truncation")
	}

	var b strings.Builder
	b.WriteString(fixed)
	if len(chunks) > 0 {
		b.WriteString("## Source document excerpts\n\n")
		for _, c := range chunks {
			b.WriteString(c)
		}
	}
	if len(turns) > 0 {
		b.WriteString("## Conversation so far\n\n")
		for _, t := range turns {
			b.WriteString(t)
		}
	}
	return b.String(), nil
}

// fixedSections renders the artifact sections that are never truncated.
func fixedSections(artifacts models.ArtifactSet) string {
	var b strings.Builder
	if a, ok := artifacts[models.ArtifactDIC]; ok && a != nil {
		b.WriteString("## Deal Intelligence Core\n\n")
		b.WriteString(a.Content)
		b.WriteString("\n\n")
	}
	if a, ok := artifacts[models.ArtifactDemoBrief]; ok && a != nil {
		b.WriteString("## Demo brief\n\n")
		b.WriteString(a.Content)
		b.WriteString("\n\n")
	}
	if a, ok := artifacts[models.ArtifactGapAnalysis]; ok && a != nil {
		b.WriteString("## Gap analysis\n\n")
		b.WriteString(a.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// chunkSections renders retrieved chunks in rank order.
func chunkSections(results []models.SearchResult) []string {
	sections := make([]string, 0, len(results))
	for _, r := range results {
		sections = append(sections, fmt.Sprintf("[%s]\n%s\n\n", r.Doc.ChunkID, r.Doc.Text))
	}
	return sections
}

// historySection renders conversation turns oldest-first.
func historySection(history []models.ChatMessage) []string {
	sections := make([]string, 0, len(history))
	for _, m := range history {
		sections = append(sections, fmt.Sprintf("%s: %s\n", m.Role, m.Content))
	}
	return sections
}

func sectionLen(s string) int { return utf8.RuneCountInString(s) }
