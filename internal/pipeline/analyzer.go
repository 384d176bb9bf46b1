package pipeline

import (
	"context"
	"fmt"

	"github.com/lht-media/packager/pkg/api"
)

// analyzerDefinition builds the transcript-analyzer workflow: fetch the
// transcript from the drive, then extract structured data with the
// model. Its output is an *AnalysisResult.
func (p *Pipeline) analyzerDefinition() api.WorkflowDefinition {
	return api.WorkflowDefinition{
		Name: AnalyzerWorkflow,
		Steps: []api.StepDefinition{
			{Name: "fetch", Fn: api.TypedStep(p.fetchTranscript)},
			{Name: "analyze", Fn: api.TypedStep(p.analyzeTranscript)},
		},
	}
}

func (p *Pipeline) fetchTranscript(ctx context.Context, st AnalyzerState) (AnalyzerState, error) {
	id := st.DocumentID
	if id == "" {
		info, _, err := findTranscript(ctx, p.drive, st.FolderID)
		if err != nil {
			return st, err
		}
		id = info.ID
	}

	content, err := p.drive.ReadDoc(ctx, id)
	if err != nil {
		return st, err
	}
	st.DocumentID = id
	st.TranscriptContent = content
	return st, nil
}

func (p *Pipeline) analyzeTranscript(ctx context.Context, st AnalyzerState) (*AnalysisResult, error) {
	user := fmt.Sprintf(`Analyze this transcript and return structured JSON output:

%s

Return ONLY valid JSON with the keys described in the system prompt.`, st.TranscriptContent)

	resp, err := p.model.Complete(ctx, analyzerPrompt, user)
	if err != nil {
		return nil, err
	}

	var result AnalysisResult
	if perr := decodeModelJSON(resp, &result); perr != nil {
		// Degraded output is still a result; downstream steps work
		// from Raw.
		return &AnalysisResult{ParseError: perr.Error(), Raw: resp}, nil
	}
	return &result, nil
}
