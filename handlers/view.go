package handlers

import (
	"github.com/nijaru/duoscribe/models"
	"github.com/nijaru/duoscribe/session"
	"github.com/nijaru/duoscribe/transcription"
	"github.com/nijaru/duoscribe/utils"
)

// Output panel views.
const (
	ViewPlaceholder = "placeholder"
	ViewProcessing  = "processing"
	ViewDocument    = "document"
)

type SessionView struct {
	ID     string      `json:"id"`
	Input  InputPanel  `json:"input"`
	Output OutputPanel `json:"output"`
}

type InputPanel struct {
	Mode       models.Mode   `json:"mode"`
	File       *FileView     `json:"file,omitempty"`
	Text       string        `json:"text"`
	TextLength int           `json:"text_length"` // bytes, the unit of the text limit
	Status     models.Status `json:"status"`
	CanSubmit  bool          `json:"can_submit"`
	Error      string        `json:"error,omitempty"`
}

type FileView struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SizeLabel string `json:"size_label"`
	MIMEType  string `json:"mime_type"`
}

type OutputPanel struct {
	View       string `json:"view"`
	Original   string `json:"original,omitempty"`
	Indonesian string `json:"indonesian,omitempty"`
	Language   string `json:"language,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

func newSessionView(s session.State) SessionView {
	view := SessionView{
		ID: s.ID,
		Input: InputPanel{
			Mode:       s.Mode,
			Text:       s.Text,
			TextLength: len(s.Text),
			Status:     s.Processing.Status,
			CanSubmit:  session.CanSubmit(s),
		},
		Output: OutputPanel{View: ViewPlaceholder},
	}

	if s.File != nil {
		view.Input.File = &FileView{
			Name:      s.File.Name,
			Size:      s.File.Size,
			SizeLabel: utils.FormatSize(s.File.Size),
			MIMEType:  s.File.MIMEType,
		}
	}
	if s.Processing.IsError() {
		view.Input.Error = s.Processing.Message
	}

	switch {
	case s.Processing.IsProcessing():
		view.Output.View = ViewProcessing
	case s.Result != nil:
		view.Output = OutputPanel{
			View:       ViewDocument,
			Original:   s.Result.Original,
			Indonesian: s.Result.Indonesian,
		}
		// Raw was validated when the result was accepted.
		if parsed, err := transcription.ParseResponse(s.Result.Raw); err == nil {
			view.Output.Language = parsed.OriginalLanguage
			view.Output.Summary = parsed.Summary
		}
	}

	return view
}
