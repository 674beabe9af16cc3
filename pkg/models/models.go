// Package models defines the core data model for the DealDesk control plane:
// deals, pipeline events, generated artifacts, chunk index documents, and
// chat sessions. These types are shared by the store, the pipeline runner,
// and the HTTP handlers.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ── Deal ────────────────────────────────────────────────────

// DealStatus is the closed set of pipeline states a deal moves through.
// Transitions only ever go forward (pending → ... → ready), or from any
// non-terminal state to error.
type DealStatus string

const (
	DealPending      DealStatus = "pending"
	DealIngesting    DealStatus = "ingesting"
	DealAnalyzing    DealStatus = "analyzing"
	DealSummarizing  DealStatus = "summarizing"
	DealArchitecting DealStatus = "architecting"
	DealGapAnalysis  DealStatus = "gap_analysis"
	DealReady        DealStatus = "ready"
	DealError        DealStatus = "error"
)

// Terminal reports whether the status ends a pipeline run.
func (s DealStatus) Terminal() bool {
	return s == DealReady || s == DealError
}

// ErrorDetail records where and why a pipeline run failed.
type ErrorDetail struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Deal is the unit of work: one submitted RfX document and the pipeline
// state for its derived artifacts. Only the pipeline runner mutates a deal
// while it is not in a terminal state.
type Deal struct {
	ID          string       `json:"id" db:"id"`
	Filename    string       `json:"filename" db:"filename"`
	Language    string       `json:"language" db:"language"`
	SessionID   string       `json:"session_id" db:"session_id"`
	Status      DealStatus   `json:"status" db:"status"`
	ErrorDetail *ErrorDetail `json:"error_detail,omitempty"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// ── Pipeline events ─────────────────────────────────────────

// EventKind classifies pipeline progress events.
type EventKind string

const (
	EventStageStarted   EventKind = "stage_started"
	EventStageCompleted EventKind = "stage_completed"
	EventArtifactReady  EventKind = "artifact_ready"
	EventError          EventKind = "error"
)

// Event is one entry in a deal's append-only progress log. IDs are
// deal-scoped, start at 1 and are gapless; events are never mutated or
// reordered once appended.
type Event struct {
	ID        int64                  `json:"id" db:"id"`
	DealID    string                 `json:"deal_id" db:"deal_id"`
	Kind      EventKind              `json:"kind" db:"kind"`
	Stage     string                 `json:"stage" db:"stage"`
	Message   string                 `json:"message" db:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
}

// ── Artifacts ───────────────────────────────────────────────

// ArtifactKind identifies which pipeline stage produced an artifact.
type ArtifactKind string

const (
	ArtifactDealContext ArtifactKind = "deal_context"
	ArtifactDIC         ArtifactKind = "dic"
	ArtifactDemoBrief   ArtifactKind = "demo_brief"
	ArtifactGapAnalysis ArtifactKind = "gap_analysis"
)

// Content types for Artifact.Content.
const (
	ContentJSON     = "json"
	ContentMarkdown = "markdown"
)

// Artifact is an immutable generated document tied to a deal and a stage
// kind. At most one artifact of each kind exists per deal; a fresh pipeline
// run replaces the whole set.
type Artifact struct {
	DealID      string       `json:"deal_id" db:"deal_id"`
	Kind        ArtifactKind `json:"kind" db:"kind"`
	ContentType string       `json:"content_type" db:"content_type"`
	Content     string       `json:"content" db:"content"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// DecodeJSON unmarshals a JSON artifact's content into v.
func (a *Artifact) DecodeJSON(v interface{}) error {
	if a.ContentType != ContentJSON {
		return fmt.Errorf("artifact %s is %s, not json", a.Kind, a.ContentType)
	}
	return json.Unmarshal([]byte(a.Content), v)
}

// ArtifactSet is the read-only view of a deal's artifacts handed to each
// pipeline stage (everything produced by earlier stages).
type ArtifactSet map[ArtifactKind]*Artifact

// Get returns the artifact of the given kind or an error naming it.
func (s ArtifactSet) Get(kind ArtifactKind) (*Artifact, error) {
	a, ok := s[kind]
	if !ok || a == nil {
		return nil, fmt.Errorf("artifact %s not present", kind)
	}
	return a, nil
}

// ── Chunk index ─────────────────────────────────────────────

// VectorDoc is one embedded fragment of a deal's source document.
// ChunkIDs are deterministic per (deal, position) so re-ingestion upserts
// instead of duplicating.
type VectorDoc struct {
	DealID       string    `json:"deal_id" db:"deal_id"`
	ChunkID      string    `json:"chunk_id" db:"chunk_id"`
	Text         string    `json:"text" db:"text"`
	Vector       []float64 `json:"vector,omitempty"`
	SourceOffset int       `json:"source_offset" db:"source_offset"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// SearchResult pairs a chunk with its similarity score for a query.
type SearchResult struct {
	Doc   VectorDoc `json:"doc"`
	Score float64   `json:"score"`
}

// ── Chat ────────────────────────────────────────────────────

// Role of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chat exchange stages: the first grounded turn is a welcome, everything
// after is ordinary Q&A.
const (
	ChatStageWelcome = "welcome"
	ChatStageQA      = "qa"
)

// ChatMessage is a single conversation turn.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Stage     string    `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession holds the bounded conversation history for one session.
// DealID is optional; an unbound session runs ungrounded (no retrieval).
type ChatSession struct {
	ID        string        `json:"id" db:"id"`
	DealID    string        `json:"deal_id,omitempty" db:"deal_id"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// ChatAnswer is the session manager's response for one turn.
type ChatAnswer struct {
	Answer string `json:"answer"`
	Stage  string `json:"stage"`
}

// ── Stage output schemas ────────────────────────────────────
//
// These mirror the structured outputs each generation stage must produce.
// Generation responses are decoded into these types and validated before
// an artifact is written; malformed output triggers a bounded retry of the
// generation call.

// EvidenceRef points a claim back at a source chunk.
type EvidenceRef struct {
	ChunkID string `json:"chunk_id"`
	Section string `json:"section,omitempty"`
	Quote   string `json:"quote,omitempty"`
}

// RequirementPriority is the MoSCoW priority of an extracted requirement.
type RequirementPriority string

const (
	PriorityMust    RequirementPriority = "must"
	PriorityShould  RequirementPriority = "should"
	PriorityCould   RequirementPriority = "could"
	PriorityUnknown RequirementPriority = "unknown"
)

func (p RequirementPriority) valid() bool {
	switch p {
	case PriorityMust, PriorityShould, PriorityCould, PriorityUnknown:
		return true
	}
	return false
}

// Requirement is one extracted customer requirement (REQ-001, REQ-002, ...).
type Requirement struct {
	ID           string              `json:"id"`
	Text         string              `json:"text"`
	Priority     RequirementPriority `json:"priority"`
	EvidenceRefs []EvidenceRef       `json:"evidence_refs,omitempty"`
}

// DocumentMetadata summarizes what kind of RfX this is and who issued it.
type DocumentMetadata struct {
	RfxType            string `json:"rfx_type"`
	Title              string `json:"title,omitempty"`
	CustomerName       string `json:"customer_name,omitempty"`
	IssuingOrg         string `json:"issuing_org,omitempty"`
	SubmissionDeadline string `json:"submission_deadline,omitempty"`
}

// DealContext is the Deal Analyzer's structured output: the requirements
// list plus document metadata and the chunk ids most relevant to the deal.
type DealContext struct {
	DocumentMetadata DocumentMetadata `json:"document_metadata"`
	Requirements     []Requirement    `json:"requirements"`
	RelevantChunkIDs []string         `json:"relevant_chunk_ids,omitempty"`
}

// Validate checks the shape the Deal Analyzer must produce.
func (c *DealContext) Validate() error {
	if len(c.Requirements) == 0 {
		return fmt.Errorf("deal context has no requirements")
	}
	for i, r := range c.Requirements {
		if r.ID == "" || r.Text == "" {
			return fmt.Errorf("requirement %d missing id or text", i)
		}
		if !r.Priority.valid() {
			return fmt.Errorf("requirement %s has invalid priority %q", r.ID, r.Priority)
		}
	}
	return nil
}

// DemoType classifies the Solution Architect's recommended demo approach.
type DemoType string

const (
	DemoStandard DemoType = "standard"
	DemoCustom   DemoType = "custom"
	DemoPoC      DemoType = "poc"
	DemoWorkshop DemoType = "workshop"
)

// DemoScenario is one proposed demo scenario (S1, S2, ...) and the
// requirement ids it covers.
type DemoScenario struct {
	ID        string   `json:"id"`
	Objective string   `json:"objective"`
	Covers    []string `json:"covers"`
}

// DemoBrief is the Solution Architect's structured output.
type DemoBrief struct {
	DemoType  DemoType       `json:"demo_type"`
	Rationale string         `json:"rationale,omitempty"`
	Scenarios []DemoScenario `json:"scenarios"`
	Risks     []string       `json:"risks,omitempty"`
}

// Validate checks the shape the Solution Architect must produce.
func (b *DemoBrief) Validate() error {
	switch b.DemoType {
	case DemoStandard, DemoCustom, DemoPoC, DemoWorkshop:
	default:
		return fmt.Errorf("invalid demo_type %q", b.DemoType)
	}
	if len(b.Scenarios) == 0 {
		return fmt.Errorf("demo brief has no scenarios")
	}
	for i, s := range b.Scenarios {
		if s.ID == "" || s.Objective == "" {
			return fmt.Errorf("scenario %d missing id or objective", i)
		}
	}
	return nil
}

// Severity of an identified gap.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Gap is one finding from the Engagement Manager: a requirement the
// proposed demo does not (fully) cover, grounded in source chunks.
type Gap struct {
	ID           string        `json:"id"`
	Type         string        `json:"type,omitempty"`
	Severity     Severity      `json:"severity"`
	Description  string        `json:"description"`
	EvidenceRefs []EvidenceRef `json:"evidence_refs"`
	NextStep     string        `json:"next_step,omitempty"`
}

// GapAnalysis is the Engagement Manager's structured output.
type GapAnalysis struct {
	Gaps []Gap `json:"gaps"`
}

// Validate checks the Engagement Manager's shape: every gap carries a
// known severity and cites at least one source chunk.
func (g *GapAnalysis) Validate() error {
	for i, gap := range g.Gaps {
		switch gap.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh:
		default:
			return fmt.Errorf("gap %d has invalid severity %q", i, gap.Severity)
		}
		if gap.ID == "" || gap.Description == "" {
			return fmt.Errorf("gap %d missing id or description", i)
		}
		cited := false
		for _, ref := range gap.EvidenceRefs {
			if ref.ChunkID != "" {
				cited = true
				break
			}
		}
		if !cited {
			return fmt.Errorf("gap %s cites no source chunk", gap.ID)
		}
	}
	return nil
}

// ── Retention ───────────────────────────────────────────────

// DealExport is the full record of one deal as written to archive
// storage before the retention janitor purges it.
type DealExport struct {
	Deal      Deal          `json:"deal"`
	Events    []Event       `json:"events"`
	Artifacts []Artifact    `json:"artifacts"`
	Sessions  []ChatSession `json:"sessions,omitempty"`
}

// ── API payloads ────────────────────────────────────────────

// SubmitDealRequest is the body of POST /api/v1/deals. Content is the raw
// document; text extraction for binary formats happens upstream.
type SubmitDealRequest struct {
	DealID   string `json:"deal_id,omitempty"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// ChatRequest is the body of POST /api/v1/chat/{sessionID}/messages.
type ChatRequest struct {
	DealID   string `json:"deal_id,omitempty"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}
