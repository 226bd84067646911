package models

import (
	"strings"
)

type Mode string

const (
	ModeVideo Mode = "VIDEO"
	ModeText  Mode = "TEXT"
)

// ParseMode accepts either case.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeVideo:
		return ModeVideo, true
	case ModeText:
		return ModeText, true
	}
	return "", false
}

type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

type ProcessingState struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Status check methods
func (p ProcessingState) IsIdle() bool       { return p.Status == StatusIdle }
func (p ProcessingState) IsProcessing() bool { return p.Status == StatusProcessing }
func (p ProcessingState) IsSuccess() bool    { return p.Status == StatusSuccess }
func (p ProcessingState) IsError() bool      { return p.Status == StatusError }

// VideoFile is an uploaded video held for the lifetime of a session.
type VideoFile struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// TranscriptionResult is replaced wholesale by each successful submission.
type TranscriptionResult struct {
	Original   string `json:"original"`
	Indonesian string `json:"indonesian"`
	// Raw is the model's structured response exactly as received.
	Raw string `json:"raw"`
}
