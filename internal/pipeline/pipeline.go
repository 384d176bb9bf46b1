// Package pipeline defines the podcast packaging workflows: the main
// packager and the three subagents it invokes (transcript analyzer,
// trend researcher, titling agent). Workflows are plain step sequences
// registered with the engine; all external access goes through the
// facade package so steps stay deterministic under test.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lht-media/packager/internal/facade"
	"github.com/lht-media/packager/pkg/api"
)

// ErrUnknownAssistant is returned by DecodeInput for an assistant ID
// that no workflow is registered under.
var ErrUnknownAssistant = errors.New("unknown assistant")

const defaultSearchConcurrency = 4

// Config carries the facades the pipeline steps call out through.
type Config struct {
	Model  facade.Model
	Search facade.Searcher
	Drive  facade.Drive

	// SearchConcurrency bounds concurrent queries in search fan-outs.
	// Zero means a small default.
	SearchConcurrency int
}

// Pipeline holds the facades shared by all workflow steps.
type Pipeline struct {
	model       facade.Model
	search      facade.Searcher
	drive       facade.Drive
	searchLimit int
}

// New creates a Pipeline from the given facades.
func New(cfg Config) *Pipeline {
	limit := cfg.SearchConcurrency
	if limit <= 0 {
		limit = defaultSearchConcurrency
	}
	return &Pipeline{
		model:       cfg.Model,
		search:      cfg.Search,
		drive:       cfg.Drive,
		searchLimit: limit,
	}
}

// Register registers all four workflows with the engine.
func (p *Pipeline) Register(eng api.Engine) error {
	defs := []api.WorkflowDefinition{
		p.packagerDefinition(),
		p.analyzerDefinition(),
		p.researcherDefinition(),
		p.titlerDefinition(),
	}
	for _, def := range defs {
		if err := eng.RegisterWorkflow(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}

// Assistant describes one runnable workflow for the HTTP catalogue.
type Assistant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Assistants returns the workflow catalogue in registration order.
func Assistants() []Assistant {
	return []Assistant{
		{
			ID:          PackagerWorkflow,
			Name:        "Main Packager",
			Description: "Orchestrates the full podcast packaging workflow with human decision points",
		},
		{
			ID:          AnalyzerWorkflow,
			Name:        "Transcript Analyzer",
			Description: "Analyzes podcast transcripts and extracts key information",
		},
		{
			ID:          ResearcherWorkflow,
			Name:        "Trend Researcher",
			Description: "Researches current trends for content optimization",
		},
		{
			ID:          TitlerWorkflow,
			Name:        "Titling Agent",
			Description: "Generates optimized podcast titles",
		},
	}
}

// DecodeInput turns a raw JSON run request body into the typed input the
// named workflow expects. An empty assistant ID means the main packager.
func DecodeInput(assistantID string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if assistantID == "" {
		assistantID = PackagerWorkflow
	}

	var (
		input any
		err   error
	)
	switch assistantID {
	case PackagerWorkflow:
		var st State
		err = json.Unmarshal(raw, &st)
		input = st
	case AnalyzerWorkflow:
		var st AnalyzerState
		err = json.Unmarshal(raw, &st)
		input = st
	case ResearcherWorkflow:
		var st ResearchState
		err = json.Unmarshal(raw, &st)
		input = st
	case TitlerWorkflow:
		var st TitlingState
		err = json.Unmarshal(raw, &st)
		input = st
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAssistant, assistantID)
	}
	if err != nil {
		return nil, fmt.Errorf("decode input for %s: %w", assistantID, err)
	}
	return input, nil
}

// runSubagent starts a nested workflow through the engine attached to
// the step context and returns its typed output. The nested run gets its
// own instance and checkpoints; a retry of the calling step starts a
// fresh one.
func runSubagent[T any](ctx context.Context, name string, input any) (T, error) {
	var zero T
	eng := api.EngineFromContext(ctx)
	if eng == nil {
		return zero, fmt.Errorf("%s: no engine attached to step context", name)
	}
	inst, err := eng.Run(ctx, name, input)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	out, ok := inst.Output.(T)
	if !ok {
		return zero, fmt.Errorf("%s run %s: unexpected output type %T", name, inst.ID, inst.Output)
	}
	return out, nil
}
