package pipeline

import _ "embed"

// System prompts for the model-backed steps. Each agent has its own
// prompt; the content creator prompt covers the episode description and
// both social post sets.

//go:embed prompts/transcript_analyzer.txt
var analyzerPrompt string

//go:embed prompts/trend_researcher.txt
var researcherPrompt string

//go:embed prompts/titling_agent.txt
var titlerPrompt string

//go:embed prompts/content_creator.txt
var contentPrompt string
