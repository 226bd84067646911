package transcription

// Input is either a VideoInput or a TextInput. The unexported marker keeps
// the set closed so Process can switch over it exhaustively.
type Input interface {
	isInput()
}

// VideoInput carries an already encoded (base64) video payload.
type VideoInput struct {
	Data     string
	MIMEType string
}

type TextInput struct {
	Content string
}

func (VideoInput) isInput() {}
func (TextInput) isInput()  {}
