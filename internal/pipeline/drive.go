package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/lht-media/packager/internal/facade"
)

// errNoTranscript distinguishes "folder has no transcript" from drive
// failures when scanning an episode folder.
var errNoTranscript = errors.New("no transcript in folder")

// findTranscript locates the episode transcript: first among the
// folder's root files, then inside Full Length Assets. The location
// tells the preflight step whether the episode was packaged before.
func findTranscript(ctx context.Context, drive facade.Drive, folderID string) (facade.FileInfo, string, error) {
	entries, err := drive.List(ctx, folderID)
	if err != nil {
		return facade.FileInfo{}, "", err
	}

	for _, e := range entries {
		if !e.IsFolder && isTranscriptName(e.Name) {
			return e, LocationRoot, nil
		}
	}

	for _, e := range entries {
		if !e.IsFolder || e.Name != folderFullLengthAssets {
			continue
		}
		inner, err := drive.List(ctx, e.ID)
		if err != nil {
			return facade.FileInfo{}, "", err
		}
		for _, f := range inner {
			if !f.IsFolder && isTranscriptName(f.Name) {
				return f, LocationFullLengthAssets, nil
			}
		}
	}

	return facade.FileInfo{}, "", fmt.Errorf("%w: %s", errNoTranscript, folderID)
}

func isTranscriptName(name string) bool {
	return strings.Contains(strings.ToLower(name), "transcript")
}

// isGeneratedDoc reports whether a file is one of the documents a
// previous packaging run produced.
func isGeneratedDoc(name string) bool {
	for _, marker := range []string{
		"Episode Description",
		"Title Options",
		"LHT Social Posts",
		"Guest Social Posts",
	} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

var mediaExts = map[string]bool{
	".mp3": true,
	".mp4": true,
	".m4a": true,
	".wav": true,
	".mov": true,
}

func isMediaFile(name string) bool {
	return mediaExts[strings.ToLower(path.Ext(name))]
}

// isShortClip reports whether a media file is a short-form clip bound
// for Social Assets rather than Full Length Assets.
func isShortClip(name string) bool {
	if !isMediaFile(name) {
		return false
	}
	lower := strings.ToLower(name)
	return strings.Contains(lower, "short") ||
		strings.Contains(lower, "clip") ||
		strings.Contains(lower, "vertical")
}

// guestFromFilename extracts a guest name from a transcript filename
// like "Jane Smith - Transcript.docx". Empty when the filename carries
// no name; the analyzer fills it in from the transcript content later.
func guestFromFilename(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	var kept []string
	for _, part := range strings.Split(base, " - ") {
		if isTranscriptName(part) {
			continue
		}
		if p := strings.TrimSpace(part); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " - ")
}

func guestPackageFolder(guestName string) string {
	if guestName == "" {
		guestName = "Guest"
	}
	return "Guest Package - " + guestName
}

func isGuestPackageFolder(name string) bool {
	return strings.HasPrefix(name, "Guest Package")
}

// formatTitleOptions renders the title candidates for the Title Options
// document, marking the one the user selected.
func formatTitleOptions(options []TitleOption, selected string) string {
	var b strings.Builder
	b.WriteString("Title Options\n\n")
	for i, t := range options {
		marker := ""
		if t.Title == selected {
			marker = " [SELECTED]"
		}
		fmt.Fprintf(&b, "%d. %s (%s)%s\n", i+1, t.Title, t.Strategy, marker)
		if t.Rationale != "" {
			fmt.Fprintf(&b, "   %s\n", t.Rationale)
		}
		b.WriteString("\n")
	}
	if selected != "" {
		fmt.Fprintf(&b, "Selected title: %s\n", selected)
	}
	return b.String()
}
