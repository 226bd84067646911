package session

import (
	"strings"
	"time"

	"github.com/nijaru/duoscribe/models"
)

// FailureMessage is the only text a processing failure ever shows.
const FailureMessage = "Failed to process content. Please try again or check the file size/format."

// State is everything one session shows. Transitions below never mutate
// their argument; they return the next value.
type State struct {
	ID         string                      `json:"id"`
	Mode       models.Mode                 `json:"mode"`
	File       *models.VideoFile           `json:"file,omitempty"`
	Text       string                      `json:"text"`
	Processing models.ProcessingState      `json:"processing"`
	Result     *models.TranscriptionResult `json:"result,omitempty"`
	// Generation changes whenever an in-flight result would no longer
	// belong to what the session shows.
	Generation uint64    `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func New(id string, now time.Time) State {
	return State{
		ID:         id,
		Mode:       models.ModeVideo,
		Processing: models.ProcessingState{Status: models.StatusIdle},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SelectMode switches the active input pathway and clears everything else,
// including when the mode is unchanged.
func SelectMode(s State, mode models.Mode, now time.Time) State {
	s = Clear(s, now)
	s.Mode = mode
	return s
}

// SelectFile replaces the selected video. The file must already be validated.
func SelectFile(s State, file models.VideoFile, now time.Time) State {
	s.File = &file
	s.UpdatedAt = now
	return s
}

func SetText(s State, text string, now time.Time) State {
	s.Text = text
	s.UpdatedAt = now
	return s
}

// Clear drops input, result and error and returns to idle.
func Clear(s State, now time.Time) State {
	s.File = nil
	s.Text = ""
	s.Result = nil
	s.Processing = models.ProcessingState{Status: models.StatusIdle}
	s.Generation++
	s.UpdatedAt = now
	return s
}

// CanSubmit reports whether the active input is non-empty and nothing is
// in flight.
func CanSubmit(s State) bool {
	if s.Processing.IsProcessing() {
		return false
	}
	switch s.Mode {
	case models.ModeVideo:
		return s.File != nil
	case models.ModeText:
		return strings.TrimSpace(s.Text) != ""
	}
	return false
}

// Begin marks the session as processing. Callers check CanSubmit first.
func Begin(s State, now time.Time) State {
	s.Result = nil
	s.Processing = models.ProcessingState{Status: models.StatusProcessing}
	s.Generation++
	s.UpdatedAt = now
	return s
}

func Succeed(s State, result models.TranscriptionResult, now time.Time) State {
	s.Result = &result
	s.Processing = models.ProcessingState{Status: models.StatusSuccess}
	s.UpdatedAt = now
	return s
}

func Fail(s State, now time.Time) State {
	s.Result = nil
	s.Processing = models.ProcessingState{Status: models.StatusError, Message: FailureMessage}
	s.UpdatedAt = now
	return s
}
