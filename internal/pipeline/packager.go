package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lht-media/packager/pkg/api"
)

// packagerDefinition builds the main packaging workflow.
//
// The happy path runs preflight, discovery, the three subagents, the
// title-selection interrupt, content generation, and the drive output
// phases. When preflight detects a previously packaged episode the run
// parks on the repackage decision first; "cancel" ends the run,
// "repackage" archives the previous output and continues. A folder with
// no transcript fails at the preflight route, before either interrupt.
func (p *Pipeline) packagerDefinition() api.WorkflowDefinition {
	return api.WorkflowDefinition{
		Name: PackagerWorkflow,
		Steps: []api.StepDefinition{
			{Name: "preflight", Fn: api.TypedStep(p.preflight), Next: routeAfterPreflight},
			{Name: "prompt-repackage", Fn: p.promptRepackage, Next: routeAfterDecision},
			{Name: "archive", Fn: api.TypedStep(p.archivePrevious)},
			{Name: "discovery", Fn: api.TypedStep(p.discovery)},
			{Name: "analyze", Fn: api.TypedStep(p.analyze)},
			{Name: "research", Fn: api.TypedStep(p.research)},
			{Name: "titles", Fn: api.TypedStep(p.generateTitleOptions)},
			{Name: "title-selection", Fn: p.titleSelection},
			{Name: "content", Fn: api.TypedStep(p.createContent)},
			{Name: "output", Fn: api.TypedStep(p.driveOutput)},
			{Name: "organize", Fn: api.TypedStep(p.organizeFiles)},
			{Name: "deliver", Fn: api.TypedStep(p.deliver)},
		},
	}
}

// preflight determines whether this folder is a new episode, a
// previously packaged one, or unusable. It never fails on a missing
// transcript; the route after it does, so the checkpoint stays here.
func (p *Pipeline) preflight(ctx context.Context, st State) (State, error) {
	if st.FolderID == "" {
		return st, errors.New("folder_id is required")
	}
	st.CurrentPhase = "preflight"

	info, location, err := findTranscript(ctx, p.drive, st.FolderID)
	switch {
	case err == nil:
		st.TranscriptID = info.ID
		st.TranscriptLocation = location
		if location == LocationFullLengthAssets {
			st.PackagingStatus = StatusAlreadyPackaged
		} else {
			st.PackagingStatus = StatusNewEpisode
		}
		if g := guestFromFilename(info.Name); g != "" {
			st.GuestName = g
		}
	case errors.Is(err, errNoTranscript):
		st.PackagingStatus = StatusNoTranscript
	default:
		return st, err
	}
	return st, nil
}

func routeAfterPreflight(output any) (string, error) {
	st, ok := output.(State)
	if !ok {
		return "", fmt.Errorf("unexpected preflight output type %T", output)
	}
	switch st.PackagingStatus {
	case StatusNewEpisode:
		return "discovery", nil
	case StatusAlreadyPackaged:
		return "prompt-repackage", nil
	case StatusNoTranscript:
		return "", fmt.Errorf("no transcript found in folder %s", st.FolderID)
	default:
		return "", fmt.Errorf("unexpected packaging status %q", st.PackagingStatus)
	}
}

// promptRepackage parks the run on the repackage decision. On signal
// delivery it records the decision; the route after it enforces the
// allowed values.
func (p *Pipeline) promptRepackage(ctx context.Context, input any) (any, error) {
	if sp, ok := input.(api.SignalPayload); ok && sp.Name == InterruptRepackage {
		st, ok := sp.State.(State)
		if !ok {
			return nil, fmt.Errorf("unexpected checkpoint state type %T", sp.State)
		}
		st.UserDecision = decisionString(sp.Data)
		return st, nil
	}

	return nil, api.NewInterruptError(api.InterruptRequest{
		Type: InterruptRepackage,
		Message: "This episode appears to have been packaged before (transcript is in " +
			"Full Length Assets/). Cancel, or archive the previous output and repackage?",
		Options: []string{DecisionCancel, DecisionRepackage},
	})
}

func routeAfterDecision(output any) (string, error) {
	st, ok := output.(State)
	if !ok {
		return "", fmt.Errorf("unexpected decision output type %T", output)
	}
	switch st.UserDecision {
	case DecisionCancel:
		return api.End, nil
	case DecisionRepackage:
		return "archive", nil
	default:
		return "", fmt.Errorf("repackage decision must be %q or %q, got %q",
			DecisionCancel, DecisionRepackage, st.UserDecision)
	}
}

// decisionString extracts the user's answer from a signal payload,
// accepting either a bare string or {"decision": "..."}.
func decisionString(v any) string {
	switch d := v.(type) {
	case string:
		return d
	case map[string]any:
		if s, ok := d["decision"].(string); ok {
			return s
		}
	}
	return ""
}

// archivePrevious moves the previous run's generated documents and the
// guest package shortcuts into _Archive, with a date suffix so repeated
// repackaging runs don't collide.
func (p *Pipeline) archivePrevious(ctx context.Context, st State) (State, error) {
	st.CurrentPhase = "archive"

	archive, err := p.drive.CreateFolder(ctx, st.FolderID, folderArchive)
	if err != nil {
		return st, err
	}
	entries, err := p.drive.List(ctx, st.FolderID)
	if err != nil {
		return st, err
	}

	suffix := time.Now().Format("2006-01-02")
	for _, e := range entries {
		if e.IsFolder || !isGeneratedDoc(e.Name) {
			continue
		}
		renamed, err := p.drive.Rename(ctx, e.ID, fmt.Sprintf("%s (%s)", e.Name, suffix))
		if err != nil {
			return st, err
		}
		moved, err := p.drive.Move(ctx, renamed.ID, archive.ID)
		if err != nil {
			return st, err
		}
		st.ArchivedFiles = append(st.ArchivedFiles, moved.ID)
	}

	for _, e := range entries {
		if !e.IsFolder || !isGuestPackageFolder(e.Name) {
			continue
		}
		shortcuts, err := p.drive.List(ctx, e.ID)
		if err != nil {
			return st, err
		}
		for _, s := range shortcuts {
			moved, err := p.drive.Move(ctx, s.ID, archive.ID)
			if err != nil {
				return st, err
			}
			st.ArchivedFiles = append(st.ArchivedFiles, moved.ID)
		}
	}

	return st, nil
}

// discovery confirms the transcript and extracts the guest name from
// its filename where possible.
func (p *Pipeline) discovery(ctx context.Context, st State) (State, error) {
	st.CurrentPhase = "discovery"

	info, location, err := findTranscript(ctx, p.drive, st.FolderID)
	if err != nil {
		return st, err
	}
	st.TranscriptID = info.ID
	st.TranscriptLocation = location
	if g := guestFromFilename(info.Name); g != "" {
		st.GuestName = g
	}
	return st, nil
}

func (p *Pipeline) analyze(ctx context.Context, st State) (State, error) {
	st.CurrentPhase = "analyze"

	result, err := runSubagent[*AnalysisResult](ctx, AnalyzerWorkflow, AnalyzerState{
		FolderID:   st.FolderID,
		DocumentID: st.TranscriptID,
		UserEmail:  st.UserEmail,
	})
	if err != nil {
		return st, err
	}
	st.TranscriptSummary = result
	if st.GuestName == "" && result.GuestName != "" {
		st.GuestName = result.GuestName
	}
	return st, nil
}

func (p *Pipeline) research(ctx context.Context, st State) (State, error) {
	st.CurrentPhase = "research"

	result, err := runSubagent[*ResearchResult](ctx, ResearcherWorkflow, ResearchState{
		TranscriptSummary: st.TranscriptSummary,
	})
	if err != nil {
		return st, err
	}
	st.TrendResearch = result
	return st, nil
}

func (p *Pipeline) generateTitleOptions(ctx context.Context, st State) (State, error) {
	st.CurrentPhase = "titles"

	result, err := runSubagent[*TitlesResult](ctx, TitlerWorkflow, TitlingState{
		TranscriptSummary: st.TranscriptSummary,
		TrendResearch:     st.TrendResearch,
	})
	if err != nil {
		return st, err
	}
	if len(result.Titles) == 0 {
		// Title selection needs options to present; a degraded titling
		// result fails this step and stays retryable.
		if result.ParseError != "" {
			return st, fmt.Errorf("titling agent output unparseable: %s", result.ParseError)
		}
		return st, errors.New("titling agent returned no titles")
	}
	st.TitleOptions = result.Titles
	return st, nil
}

// titleSelection parks the run until the user picks a title. The answer
// may be one of the presented options or a free-form suggestion.
func (p *Pipeline) titleSelection(ctx context.Context, input any) (any, error) {
	if sp, ok := input.(api.SignalPayload); ok && sp.Name == InterruptTitleSelection {
		st, ok := sp.State.(State)
		if !ok {
			return nil, fmt.Errorf("unexpected checkpoint state type %T", sp.State)
		}
		title := titleString(sp.Data)
		if title == "" {
			return nil, errors.New("title selection response is empty")
		}
		st.SelectedTitle = title
		return st, nil
	}

	st, ok := input.(State)
	if !ok {
		return nil, fmt.Errorf("unexpected step input type %T", input)
	}

	var b strings.Builder
	for i, t := range st.TitleOptions {
		fmt.Fprintf(&b, "%d. %s - %s\n   %s\n", i+1, t.Title, t.Strategy, t.Rationale)
	}
	options := make([]string, len(st.TitleOptions))
	for i, t := range st.TitleOptions {
		options[i] = t.Title
	}

	return nil, api.NewInterruptError(api.InterruptRequest{
		Type: InterruptTitleSelection,
		Message: fmt.Sprintf("Based on transcript analysis and current social media trends, "+
			"here are %d title options:\n\n%s\nWhich title would you like to use, "+
			"or do you have another suggestion?", len(st.TitleOptions), b.String()),
		Options: options,
	})
}

// titleString extracts the selected title from a signal payload,
// accepting either a bare string or {"title": "..."}.
func titleString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if s, ok := t["title"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// createContent generates the episode description and both social post
// sets from the selected title and the subagent outputs.
func (p *Pipeline) createContent(ctx context.Context, st State) (State, error) {
	st.CurrentPhase = "content"

	contextJSON := mustJSON(map[string]any{
		"transcript_summary": st.TranscriptSummary,
		"trend_research":     st.TrendResearch,
		"selected_title":     st.SelectedTitle,
		"guest_name":         st.GuestName,
	})

	description, err := p.model.Complete(ctx, contentPrompt, fmt.Sprintf(`Generate the Episode Description using this context:

%s

Follow the Episode Description format from the system prompt exactly.
Use the selected title as the header.
NO EMOJIS. NO ASTERISKS.`, contextJSON))
	if err != nil {
		return st, err
	}
	st.EpisodeDescription = description

	lhtPosts, err := p.model.Complete(ctx, contentPrompt, fmt.Sprintf(`Generate LHT Social Posts for LinkedIn, Facebook, TikTok, and Instagram using this context:

%s

Follow platform-specific formats from the system prompt.
All posts must tie back to the selected title theme.
NO EMOJIS. NO ASTERISKS.`, contextJSON))
	if err != nil {
		return st, err
	}
	st.LHTSocialPosts = lhtPosts

	guestPosts, err := p.model.Complete(ctx, contentPrompt, fmt.Sprintf(`Generate Guest Social Posts for %s to post on their own LinkedIn, Facebook, TikTok, and Instagram.

Context:
%s

Use the guest's voice profile from the transcript summary.
Write as if the guest is posting these themselves.
NO EMOJIS. NO ASTERISKS.`, st.GuestName, contextJSON))
	if err != nil {
		return st, err
	}
	st.GuestSocialPosts = guestPosts

	return st, nil
}

// driveOutput creates the standard episode folders and writes the four
// generated documents into the episode root. Re-running after a partial
// failure overwrites instead of duplicating.
func (p *Pipeline) driveOutput(ctx context.Context, st State) (State, error) {
	st.CurrentPhase = "output"
	st.CreatedFolders = nil
	st.CreatedFiles = nil

	folders := []string{
		folderFullLengthAssets,
		folderPodcastArtwork,
		folderSocialAssets,
		guestPackageFolder(st.GuestName),
	}
	for _, name := range folders {
		info, err := p.drive.CreateFolder(ctx, st.FolderID, name)
		if err != nil {
			return st, err
		}
		st.CreatedFolders = append(st.CreatedFolders, info.ID)
	}

	guest := st.GuestName
	if guest == "" {
		guest = "Guest"
	}
	docs := []struct {
		name    string
		content string
	}{
		{guest + " - Episode Description", st.EpisodeDescription},
		{guest + " - Title Options", formatTitleOptions(st.TitleOptions, st.SelectedTitle)},
		{guest + " - LHT Social Posts", st.LHTSocialPosts},
		{guest + " - Guest Social Posts", st.GuestSocialPosts},
	}
	for _, doc := range docs {
		info, err := p.drive.CreateDoc(ctx, st.FolderID, doc.name, doc.content)
		if err != nil {
			return st, err
		}
		st.CreatedFiles = append(st.CreatedFiles, info.ID)
	}

	return st, nil
}

// organizeFiles moves media into the asset folders, moves the
// transcript into Full Length Assets, and fills the guest package with
// shortcuts to the generated documents.
func (p *Pipeline) organizeFiles(ctx context.Context, st State) (State, error) {
	st.MovedFiles = nil
	st.CreatedShortcuts = nil

	entries, err := p.drive.List(ctx, st.FolderID)
	if err != nil {
		return st, err
	}

	var fullLengthID, socialID, guestPkgID string
	for _, e := range entries {
		if !e.IsFolder {
			continue
		}
		switch {
		case e.Name == folderFullLengthAssets:
			fullLengthID = e.ID
		case e.Name == folderSocialAssets:
			socialID = e.ID
		case isGuestPackageFolder(e.Name):
			guestPkgID = e.ID
		}
	}
	if fullLengthID == "" || socialID == "" || guestPkgID == "" {
		return st, errors.New("output folders missing; run the output phase first")
	}

	for _, e := range entries {
		if e.IsFolder {
			continue
		}
		switch {
		case isShortClip(e.Name):
			moved, err := p.drive.Move(ctx, e.ID, socialID)
			if err != nil {
				return st, err
			}
			st.MovedFiles = append(st.MovedFiles, moved.ID)
		case isMediaFile(e.Name):
			moved, err := p.drive.Move(ctx, e.ID, fullLengthID)
			if err != nil {
				return st, err
			}
			st.MovedFiles = append(st.MovedFiles, moved.ID)
		case e.ID == st.TranscriptID:
			moved, err := p.drive.Move(ctx, e.ID, fullLengthID)
			if err != nil {
				return st, err
			}
			st.TranscriptID = moved.ID
			st.TranscriptLocation = LocationFullLengthAssets
			st.MovedFiles = append(st.MovedFiles, moved.ID)
		case isGeneratedDoc(e.Name):
			shortcut, err := p.drive.CreateShortcut(ctx, guestPkgID, e.ID, e.Name)
			if err != nil {
				return st, err
			}
			st.CreatedShortcuts = append(st.CreatedShortcuts, shortcut.ID)
		}
	}

	return st, nil
}

func (p *Pipeline) deliver(ctx context.Context, st State) (State, error) {
	st.CurrentPhase = "complete"
	return st, nil
}
