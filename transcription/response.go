package transcription

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Response is the structured document the model is required to return.
type Response struct {
	OriginalLanguage      string `json:"originalLanguage"`
	OriginalContent       string `json:"originalContent"`
	IndonesianTranslation string `json:"indonesianTranslation"`
	Summary               string `json:"summary"`
}

type strictResponse struct {
	OriginalLanguage      *string `json:"originalLanguage"`
	OriginalContent       *string `json:"originalContent"`
	IndonesianTranslation *string `json:"indonesianTranslation"`
	Summary               *string `json:"summary"`
}

// ParseResponse decodes the model output. Text that is not JSON fails with
// ErrMalformedResponse; a missing, null or non-string required field fails
// with ErrSchemaViolation.
func ParseResponse(text string) (*Response, error) {
	const op = "transcription.ParseResponse"

	if !json.Valid([]byte(text)) {
		return nil, newError(op, ErrMalformedResponse, nil)
	}

	var strict strictResponse
	if err := json.Unmarshal([]byte(text), &strict); err != nil {
		return nil, newError(op, ErrSchemaViolation, errors.Wrap(err, "unexpected shape"))
	}

	fields := []struct {
		name  string
		value *string
	}{
		{FieldOriginalLanguage, strict.OriginalLanguage},
		{FieldOriginalContent, strict.OriginalContent},
		{FieldIndonesianTranslation, strict.IndonesianTranslation},
		{FieldSummary, strict.Summary},
	}
	for _, f := range fields {
		if f.value == nil {
			return nil, newError(op, ErrSchemaViolation, fmt.Errorf("missing required field %q", f.name))
		}
	}

	return &Response{
		OriginalLanguage:      *strict.OriginalLanguage,
		OriginalContent:       *strict.OriginalContent,
		IndonesianTranslation: *strict.IndonesianTranslation,
		Summary:               *strict.Summary,
	}, nil
}
