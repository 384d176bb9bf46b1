package pipeline

import (
	"encoding/gob"

	"github.com/lht-media/packager/internal/facade"
)

// Workflow names as registered with the engine. The main workflow
// orchestrates the three subagents.
const (
	PackagerWorkflow   = "podcast-packager"
	AnalyzerWorkflow   = "transcript-analyzer"
	ResearcherWorkflow = "trend-researcher"
	TitlerWorkflow     = "titling-agent"
)

// Packaging status values set by the preflight step.
const (
	StatusNewEpisode      = "new_episode"
	StatusAlreadyPackaged = "already_packaged"
	StatusNoTranscript    = "no_transcript"
)

// Transcript locations within an episode folder.
const (
	LocationRoot             = "root"
	LocationFullLengthAssets = "full_length_assets"
)

// Decisions accepted by the repackage prompt.
const (
	DecisionCancel    = "cancel"
	DecisionRepackage = "repackage"
)

// Interrupt types raised by the main workflow's two decision points.
// Signals must name the matching type to be delivered.
const (
	InterruptRepackage      = "repackage_decision"
	InterruptTitleSelection = "title_selection"
)

// Folder names the packager creates inside an episode folder.
const (
	folderFullLengthAssets = "Full Length Assets"
	folderPodcastArtwork   = "Podcast Artwork"
	folderSocialAssets     = "Social Assets"
	folderArchive          = "_Archive"
)

// State is the checkpointed state of the main packaging workflow. Every
// step receives the previous step's State and returns an updated copy.
type State struct {
	FolderID  string `json:"folder_id"`
	UserEmail string `json:"user_email"`

	PackagingStatus    string `json:"packaging_status,omitempty"`
	TranscriptLocation string `json:"transcript_location,omitempty"`
	UserDecision       string `json:"user_decision,omitempty"`

	GuestName    string `json:"guest_name,omitempty"`
	TranscriptID string `json:"transcript_id,omitempty"`

	TranscriptSummary *AnalysisResult `json:"transcript_summary,omitempty"`
	TrendResearch     *ResearchResult `json:"trend_research,omitempty"`

	TitleOptions  []TitleOption `json:"title_options,omitempty"`
	SelectedTitle string        `json:"selected_title,omitempty"`

	EpisodeDescription string `json:"episode_description,omitempty"`
	LHTSocialPosts     string `json:"lht_social_posts,omitempty"`
	GuestSocialPosts   string `json:"guest_social_posts,omitempty"`

	CreatedFolders   []string `json:"created_folders,omitempty"`
	CreatedFiles     []string `json:"created_files,omitempty"`
	MovedFiles       []string `json:"moved_files,omitempty"`
	CreatedShortcuts []string `json:"created_shortcuts,omitempty"`
	ArchivedFiles    []string `json:"archived_files,omitempty"`

	CurrentPhase string `json:"current_phase,omitempty"`
}

// AnalyzerState is the state of the transcript-analyzer workflow.
type AnalyzerState struct {
	FolderID   string `json:"folder_id"`
	DocumentID string `json:"document_id,omitempty"`
	UserEmail  string `json:"user_email"`

	TranscriptContent string `json:"transcript_content,omitempty"`
}

// ResearchState is the state of the trend-researcher workflow.
type ResearchState struct {
	TranscriptSummary *AnalysisResult      `json:"transcript_summary"`
	SearchResults     []facade.QueryResult `json:"search_results,omitempty"`
}

// TitlingState is the state of the titling-agent workflow.
type TitlingState struct {
	TranscriptSummary *AnalysisResult      `json:"transcript_summary"`
	TrendResearch     *ResearchResult      `json:"trend_research"`
	StrategyResearch  []facade.QueryResult `json:"strategy_research,omitempty"`
}

// Theme is one key theme extracted from a transcript.
type Theme struct {
	Theme   string `json:"theme"`
	Summary string `json:"summary,omitempty"`
}

// Quote is a quotable moment from a transcript.
type Quote struct {
	Quote   string `json:"quote"`
	Context string `json:"context,omitempty"`
}

// AnalysisResult is the structured output of the transcript analyzer.
// When the model's response is not valid JSON the result degrades:
// ParseError and Raw are set and the structured fields stay empty. A
// degraded result is still a successful step; downstream steps work
// from Raw.
type AnalysisResult struct {
	GuestName    string   `json:"guest_name,omitempty"`
	GuestTitle   string   `json:"guest_title,omitempty"`
	KeyThemes    []Theme  `json:"key_themes,omitempty"`
	QuoteBank    []Quote  `json:"quote_bank,omitempty"`
	PainPoints   []string `json:"pain_points,omitempty"`
	VoiceProfile string   `json:"voice_profile,omitempty"`

	ParseError string `json:"parse_error,omitempty"`
	Raw        string `json:"raw,omitempty"`
}

// RankedTheme is a transcript theme scored by trend potential.
type RankedTheme struct {
	Theme      string `json:"theme"`
	TrendScore int    `json:"trend_score"`
	Rationale  string `json:"rationale,omitempty"`
}

// ResearchResult is the structured output of the trend researcher, with
// the same degraded-output convention as AnalysisResult.
type ResearchResult struct {
	RankedThemes    []RankedTheme `json:"ranked_themes,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`

	ParseError string `json:"parse_error,omitempty"`
	Raw        string `json:"raw,omitempty"`
}

// TitleOption is one candidate episode title.
type TitleOption struct {
	Title     string `json:"title"`
	Strategy  string `json:"strategy"`
	Rationale string `json:"rationale,omitempty"`
}

// TitlesResult is the structured output of the titling agent, with the
// same degraded-output convention as AnalysisResult.
type TitlesResult struct {
	Titles []TitleOption `json:"titles,omitempty"`

	ParseError string `json:"parse_error,omitempty"`
	Raw        string `json:"raw,omitempty"`
}

func init() {
	// Everything that crosses a checkpoint or signal boundary must be
	// known to gob.
	gob.Register(State{})
	gob.Register(AnalyzerState{})
	gob.Register(ResearchState{})
	gob.Register(TitlingState{})
	gob.Register(&AnalysisResult{})
	gob.Register(&ResearchResult{})
	gob.Register(&TitlesResult{})
	gob.Register([]TitleOption(nil))
	gob.Register([]facade.QueryResult(nil))
}
