package export

import (
	"strings"
	"testing"

	"github.com/nijaru/duoscribe/models"
)

func TestDocument(t *testing.T) {
	doc := Document(models.TranscriptionResult{Original: "Hello world", Indonesian: "Halo dunia"})

	want := "ORIGINAL TRANSCRIPTION:\n\nHello world\n\n-------------------\n\nINDONESIAN TRANSLATION:\n\nHalo dunia"
	if doc != want {
		t.Errorf("Document() = %q, want %q", doc, want)
	}
}

func TestDocumentKeepsContentVerbatim(t *testing.T) {
	original := "Line one.\nLine two with %s and %d"
	indonesian := "Baris satu.\n\nBaris dua"
	doc := Document(models.TranscriptionResult{Original: original, Indonesian: indonesian})

	for _, s := range []string{"ORIGINAL TRANSCRIPTION:", "INDONESIAN TRANSLATION:", original, indonesian} {
		if !strings.Contains(doc, s) {
			t.Errorf("expected document to contain %q", s)
		}
	}
	if strings.Index(doc, original) > strings.Index(doc, indonesian) {
		t.Error("expected original before translation")
	}
}
