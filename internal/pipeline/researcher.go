package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lht-media/packager/internal/facade"
	"github.com/lht-media/packager/pkg/api"
)

// researcherDefinition builds the trend-researcher workflow: fan out a
// batch of web searches, then rank the transcript's themes against the
// results with the model. Its output is a *ResearchResult.
func (p *Pipeline) researcherDefinition() api.WorkflowDefinition {
	return api.WorkflowDefinition{
		Name: ResearcherWorkflow,
		Steps: []api.StepDefinition{
			{Name: "research", Fn: api.TypedStep(p.conductResearch)},
			{Name: "analyze", Fn: api.TypedStep(p.analyzeTrends)},
		},
	}
}

func (p *Pipeline) conductResearch(ctx context.Context, st ResearchState) (ResearchState, error) {
	st.SearchResults = facade.FanOut(ctx, p.search, trendQueries(st.TranscriptSummary), p.searchLimit)
	return st, nil
}

// trendQueries covers all four platforms plus the education sector and
// national context. The lead query tracks the transcript's top theme.
func trendQueries(summary *AnalysisResult) []string {
	lead := "education"
	if summary != nil && len(summary.KeyThemes) > 0 {
		lead = summary.KeyThemes[0].Theme
	}
	now := time.Now()
	year := now.Format("2006")

	return []string{
		fmt.Sprintf("%s LinkedIn viral %s", lead, year),
		"K-12 education leadership LinkedIn trending",
		fmt.Sprintf("teacher TikTok viral %s", year),
		"education Instagram reels trending",
		fmt.Sprintf("SPED education news %s", year),
		"K-12 teacher retention trending",
		"school administrator burnout viral",
		fmt.Sprintf("education policy news %s", now.Format("January 2006")),
	}
}

func (p *Pipeline) analyzeTrends(ctx context.Context, st ResearchState) (*ResearchResult, error) {
	user := fmt.Sprintf(`Based on this transcript summary:

%s

And these search results:

%s

Rank the transcript data by trend potential and provide content strategy
recommendations. Return ONLY valid JSON with the keys described in the
system prompt.`, mustJSON(st.TranscriptSummary), mustJSON(st.SearchResults))

	resp, err := p.model.Complete(ctx, researcherPrompt, user)
	if err != nil {
		return nil, err
	}

	var result ResearchResult
	if perr := decodeModelJSON(resp, &result); perr != nil {
		return &ResearchResult{ParseError: perr.Error(), Raw: resp}, nil
	}
	return &result, nil
}
