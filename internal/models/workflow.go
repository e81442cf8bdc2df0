// internal/models/workflow.go
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider identifies one of the upstream model backends the remote
// pipeline can execute against. The set is closed; unknown values are
// rejected when decoding.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// DefaultProvider is used when a run config does not name one.
const DefaultProvider = ProviderGoogle

// DefaultParallelProviders is the provider set for a comparison run when
// the caller does not choose one.
var DefaultParallelProviders = []Provider{ProviderOpenAI, ProviderAnthropic}

// ParseProvider validates a provider tag.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
		return Provider(s), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

func (p Provider) Valid() bool {
	_, err := ParseProvider(string(p))
	return err == nil
}

func (p *Provider) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseProvider(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PIIType classifies a detected personally-identifiable entity.
type PIIType string

const (
	PIIPerson       PIIType = "person"
	PIIEmail        PIIType = "email"
	PIIPhone        PIIType = "phone"
	PIIOrganization PIIType = "organization"
	PIILocation     PIIType = "location"
)

func (t *PIIType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch PIIType(s) {
	case PIIPerson, PIIEmail, PIIPhone, PIIOrganization, PIILocation:
		*t = PIIType(s)
		return nil
	}
	return fmt.Errorf("unknown pii type %q", s)
}

const (
	// DefaultSource tags raw input that was typed in by hand.
	DefaultSource = "manual"

	// DefaultTemperature is the sampling temperature the backend assumes.
	DefaultTemperature = 0.7
)

// RawInput is one unit of user-authored feedback, constructed fresh per
// workflow run and immutable once handed to the orchestrator.
type RawInput struct {
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	CustomerID string            `json:"customer_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// sharing the metadata map.
func (r RawInput) Clone() RawInput {
	out := r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// RunConfig holds the execution parameters for a single run.
type RunConfig struct {
	Provider    Provider `json:"provider"`
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature"`
}

// DefaultRunConfig returns the parameters a fresh wizard session starts with.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Provider:    DefaultProvider,
		Temperature: DefaultTemperature,
	}
}

// ValueProposition is the generated document at the center of a result.
type ValueProposition struct {
	Headline        string    `json:"headline"`
	Problem         string    `json:"problem"`
	Solution        string    `json:"solution"`
	Differentiation string    `json:"differentiation"`
	QuantifiedValue *string   `json:"quantified_value"`
	CallToAction    string    `json:"call_to_action"`
	Persona         string    `json:"persona"`
	TalkingPoints   []string  `json:"talking_points"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// PIIEntity is one detected PII span in the normalized input.
type PIIEntity struct {
	Type       PIIType `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
}

// NormalizedInput is the pipeline's cleaned-up view of the raw feedback.
type NormalizedInput struct {
	Language        string      `json:"language"`
	PIIDetected     []PIIEntity `json:"pii_detected"`
	RedactedContent string      `json:"redacted_content"`
	WordCount       int         `json:"word_count"`
}

// ExtractedData holds the structured facts mined from the feedback.
type ExtractedData struct {
	ProblemStatement string   `json:"problem_statement"`
	CurrentSolution  *string  `json:"current_solution"`
	DesiredOutcome   string   `json:"desired_outcome"`
	PainPoints       []string `json:"pain_points"`
	ValueDrivers     []string `json:"value_drivers"`
	Stakeholders     []string `json:"stakeholders"`
	Timeline         *string  `json:"timeline"`
	BudgetSignal     *string  `json:"budget_signal"`
	Confidence       float64  `json:"confidence"`
}

// ClaimVerification is one per-claim entry in the self-check pass.
type ClaimVerification struct {
	Claim      string  `json:"claim"`
	Supported  bool    `json:"supported"`
	Evidence   *string `json:"evidence"`
	Confidence float64 `json:"confidence"`
}

// SelfCheck is the pipeline's internal verification verdict.
type SelfCheck struct {
	Verifications     []ClaimVerification `json:"verifications"`
	OverallAccuracy   float64             `json:"overall_accuracy"`
	HallucinationRisk float64             `json:"hallucination_risk"`
	Approved          bool                `json:"approved"`
	RejectionReason   *string             `json:"rejection_reason"`
}

// WorkflowResult is the remote pipeline's output envelope. It is
// immutable once received; presentation code edits local copies only.
type WorkflowResult struct {
	RunID            string            `json:"run_id"`
	ValueProposition *ValueProposition `json:"value_proposition"`
	NormalizedInput  *NormalizedInput  `json:"normalized_input"`
	ExtractedData    *ExtractedData    `json:"extracted_data"`
	SelfCheck        *SelfCheck        `json:"self_check"`
	TotalLatencyMS   int64             `json:"total_latency_ms"`
	TotalCostUSD     float64           `json:"total_cost_usd"`
	ProviderUsed     Provider          `json:"provider_used"`
	ModelUsed        string            `json:"model_used"`
	Success          bool              `json:"success"`
	Error            *string           `json:"error"`
}

// Approved reports whether the result passed the pipeline's self-check.
func (r *WorkflowResult) Approved() bool {
	return r.SelfCheck != nil && r.SelfCheck.Approved
}

// ParallelResult maps provider tags to their individual results. Order
// carries the request order; the JSON object's key order is not relied on.
// A provider entry may be a failed result without invalidating siblings.
type ParallelResult struct {
	Order      []Provider
	ByProvider map[Provider]*WorkflowResult
}

// Entry returns the result for one provider, nil when absent.
func (p *ParallelResult) Entry(provider Provider) *WorkflowResult {
	if p == nil || p.ByProvider == nil {
		return nil
	}
	return p.ByProvider[provider]
}
