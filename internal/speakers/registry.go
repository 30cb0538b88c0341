package speakers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yegors/diarscribe/internal/transcript"
	"github.com/yegors/diarscribe/pkg/logger"
)

var (
	// ErrInvalidName is returned for names that would break the rendered transcript
	ErrInvalidName = errors.New("invalid speaker name")
	// ErrUnknownSpeaker is returned when renaming a speaker the transcript does not have
	ErrUnknownSpeaker = errors.New("unknown speaker")
)

const maxNameLength = 64

// placeholderName matches the "Speaker N" form given to unnamed speakers
var placeholderName = regexp.MustCompile(`^(?i)speaker\s+(\d+)$`)

// maxAttempts bounds how often a speaker is asked again after an invalid answer
const maxAttempts = 3

// Prompt is what a Prompter is shown for one speaker
type Prompt struct {
	Ordinal     int
	Total       int
	Placeholder string
	Excerpt     string
	Start       float64
	End         float64
	Problem     string // Why the previous answer was rejected, if it was
}

// Prompter asks for the name of one speaker. Returning skip keeps the placeholder.
type Prompter interface {
	PromptName(ctx context.Context, p Prompt) (name string, skip bool, err error)
}

// AutoSkip is a non-interactive Prompter that keeps every placeholder
type AutoSkip struct{}

// PromptName implements Prompter
func (AutoSkip) PromptName(context.Context, Prompt) (string, bool, error) {
	return "", true, nil
}

// Registry names the speakers of a transcript
type Registry struct {
	prompter Prompter
	logger   *logger.Logger
}

// NewRegistry creates a new registry. A nil prompter behaves like AutoSkip.
func NewRegistry(prompter Prompter, logger *logger.Logger) *Registry {
	if prompter == nil {
		prompter = AutoSkip{}
	}
	return &Registry{
		prompter: prompter,
		logger:   logger.Named("speakers"),
	}
}

// NameInteractively asks the prompter for a name for every speaker in order of first
// appearance. Named speakers keep their names across all of their segments.
func (r *Registry) NameInteractively(ctx context.Context, t *transcript.Transcript) error {
	ids := t.SpeakerIDs()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		label, _ := t.Label(id)
		prompt := Prompt{
			Ordinal:     label.Ordinal,
			Total:       len(ids),
			Placeholder: label.Display(),
		}
		if seg, ok := t.FirstSegment(id); ok {
			prompt.Excerpt = excerpt(seg.Text, 120)
			prompt.Start = seg.Start
			prompt.End = seg.End
		}

		for attempt := 0; attempt < maxAttempts; attempt++ {
			name, skip, err := r.prompter.PromptName(ctx, prompt)
			if err != nil {
				return fmt.Errorf("failed to prompt for speaker %d: %w", label.Ordinal, err)
			}
			if skip {
				break
			}
			clean, err := CheckName(t, label.Ordinal, name)
			if err != nil {
				prompt.Problem = err.Error()
				r.logger.Debug("Rejected speaker name", logger.Int("ordinal", label.Ordinal), logger.Error(err))
				continue
			}
			t.SetName(id, clean)
			r.logger.Info("Named speaker", logger.Int("ordinal", label.Ordinal), logger.String("name", clean))
			break
		}
	}
	return nil
}

// Rename sets the name of a speaker. Renaming to the current name is a no-op.
func Rename(t *transcript.Transcript, speakerID, name string) error {
	label, ok := t.Label(speakerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpeaker, speakerID)
	}
	clean, err := CheckName(t, label.Ordinal, name)
	if err != nil {
		return err
	}
	t.SetName(speakerID, clean)
	return nil
}

// RenameOrdinal renames the speaker holding ordinal
func RenameOrdinal(t *transcript.Transcript, ordinal int, name string) error {
	id, ok := t.SpeakerByOrdinal(ordinal)
	if !ok {
		return fmt.Errorf("%w: no speaker %d", ErrUnknownSpeaker, ordinal)
	}
	return Rename(t, id, name)
}

// CheckName validates name for the speaker holding ordinal. Besides ValidateName it
// rejects names another speaker of t already displays under, and "Speaker N" for any
// N other than the speaker's own ordinal, so every rendered line stays attributable.
func CheckName(t *transcript.Transcript, ordinal int, name string) (string, error) {
	clean, err := ValidateName(name)
	if err != nil {
		return "", err
	}
	if _, ok := t.SpeakerByOrdinal(ordinal); !ok {
		return "", fmt.Errorf("%w: no speaker %d", ErrUnknownSpeaker, ordinal)
	}
	if m := placeholderName.FindStringSubmatch(clean); m != nil {
		if n, err := strconv.Atoi(m[1]); err != nil || n != ordinal {
			return "", fmt.Errorf("%w: %q is the placeholder of another speaker", ErrInvalidName, clean)
		}
	}
	for _, l := range t.Speakers {
		if l.Ordinal != ordinal && strings.EqualFold(l.Display(), clean) {
			return "", fmt.Errorf("%w: speaker %d is already called %s", ErrInvalidName, l.Ordinal, l.Display())
		}
	}
	return clean, nil
}

// ValidateName trims a name and rejects values that cannot be rendered on one
// transcript line.
func ValidateName(name string) (string, error) {
	clean := strings.TrimSpace(name)
	switch {
	case clean == "":
		return "", fmt.Errorf("%w: name is empty", ErrInvalidName)
	case strings.ContainsAny(clean, "\r\n"):
		return "", fmt.Errorf("%w: name spans multiple lines", ErrInvalidName)
	case strings.Contains(clean, ":"):
		return "", fmt.Errorf("%w: name contains a colon", ErrInvalidName)
	case len([]rune(clean)) > maxNameLength:
		return "", fmt.Errorf("%w: name is longer than %d characters", ErrInvalidName, maxNameLength)
	}
	return clean, nil
}

func excerpt(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return strings.TrimSpace(string(r[:limit])) + "…"
}
