package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lht-media/packager/internal/facade"
	"github.com/lht-media/packager/pkg/api"
)

// titlerDefinition builds the titling-agent workflow: research current
// headline strategies, then generate five titles, one per strategy. Its
// output is a *TitlesResult.
func (p *Pipeline) titlerDefinition() api.WorkflowDefinition {
	return api.WorkflowDefinition{
		Name: TitlerWorkflow,
		Steps: []api.StepDefinition{
			{Name: "research", Fn: api.TypedStep(p.researchStrategies)},
			{Name: "generate", Fn: api.TypedStep(p.generateTitles)},
		},
	}
}

func strategyQueries() []string {
	year := time.Now().Format("2006")
	return []string{
		"viral podcast titles " + year,
		"LinkedIn headline formulas that work",
		"YouTube title optimization " + year,
		"FOMO marketing examples " + year,
		"curiosity gap headlines examples",
		"education content marketing headlines",
	}
}

func (p *Pipeline) researchStrategies(ctx context.Context, st TitlingState) (TitlingState, error) {
	st.StrategyResearch = facade.FanOut(ctx, p.search, strategyQueries(), p.searchLimit)
	return st, nil
}

func (p *Pipeline) generateTitles(ctx context.Context, st TitlingState) (*TitlesResult, error) {
	user := fmt.Sprintf(`Generate 5 title options using this context:

Transcript Summary:
%s

Trend Research:
%s

Strategy Research:
%s

Each title must use a different strategy (FOMO, Reversal, Challenge,
Curiosity Gap, Authority/Transformation). Return ONLY valid JSON with the
keys described in the system prompt.`,
		mustJSON(st.TranscriptSummary), mustJSON(st.TrendResearch), mustJSON(st.StrategyResearch))

	resp, err := p.model.Complete(ctx, titlerPrompt, user)
	if err != nil {
		return nil, err
	}

	var result TitlesResult
	if perr := decodeModelJSON(resp, &result); perr != nil {
		return &TitlesResult{ParseError: perr.Error(), Raw: resp}, nil
	}
	return &result, nil
}
