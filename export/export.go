package export

import (
	"fmt"

	"github.com/nijaru/duoscribe/models"
)

const (
	FileName    = "transcription-export.txt"
	ContentType = "text/plain; charset=utf-8"
)

const divider = "-------------------"

// Document renders both columns of a result as the plain-text export.
func Document(result models.TranscriptionResult) string {
	return fmt.Sprintf("ORIGINAL TRANSCRIPTION:\n\n%s\n\n%s\n\nINDONESIAN TRANSLATION:\n\n%s",
		result.Original, divider, result.Indonesian)
}
