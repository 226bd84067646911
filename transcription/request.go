package transcription

import (
	"strings"
)

const (
	DefaultModel     = "gemini-2.5-flash"
	DefaultBaseURL   = "https://generativelanguage.googleapis.com"
	defaultVideoMIME = "video/mp4"

	videoPrompt  = "Transcribe this video and provide an Indonesian translation."
	textTemplate = "Process the following text (which may be a YouTube transcript or similar): \n\n"
)

const SystemInstruction = `
You are an expert transcriber and translator.
Your task is to process the provided input (video or text) and produce a structured document.
1. Transcribe or process the original content exactly as it appears (Original Language).
2. Translate the content into fluent, natural-sounding Indonesian.
3. Return the result in a structured JSON format containing both the original text and the Indonesian translation.
`

// Field names of the structured response.
const (
	FieldOriginalLanguage      = "originalLanguage"
	FieldOriginalContent       = "originalContent"
	FieldIndonesianTranslation = "indonesianTranslation"
	FieldSummary               = "summary"
)

type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GenerationConfig struct {
	ResponseMIMEType string  `json:"responseMimeType"`
	ResponseSchema   *Schema `json:"responseSchema"`
}

type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// ResponseSchema is the contract the model output must satisfy.
func ResponseSchema() *Schema {
	return &Schema{
		Type: "OBJECT",
		Properties: map[string]*Schema{
			FieldOriginalLanguage: {
				Type:        "STRING",
				Description: "The name of the original language detected.",
			},
			FieldOriginalContent: {
				Type:        "STRING",
				Description: "The full transcription or content in the original language.",
			},
			FieldIndonesianTranslation: {
				Type:        "STRING",
				Description: "The full translation in Indonesian.",
			},
			FieldSummary: {
				Type:        "STRING",
				Description: "A brief summary of the content in Indonesian.",
			},
		},
		Required: []string{
			FieldOriginalLanguage,
			FieldOriginalContent,
			FieldIndonesianTranslation,
			FieldSummary,
		},
	}
}

// BuildRequest maps an input onto a generateContent request body.
func BuildRequest(in Input) (*GenerateRequest, error) {
	const op = "transcription.BuildRequest"

	var parts []Part
	switch v := in.(type) {
	case VideoInput:
		mimeType := strings.TrimSpace(v.MIMEType)
		if mimeType == "" {
			mimeType = defaultVideoMIME
		}
		parts = []Part{
			{InlineData: &Blob{MIMEType: mimeType, Data: v.Data}},
			{Text: videoPrompt},
		}
	case TextInput:
		parts = []Part{{Text: textTemplate + v.Content}}
	default:
		return nil, newError(op, ErrUnsupportedInput, nil)
	}

	return &GenerateRequest{
		Contents: []Content{{Role: "user", Parts: parts}},
		SystemInstruction: &Content{
			Parts: []Part{{Text: SystemInstruction}},
		},
		GenerationConfig: &GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   ResponseSchema(),
		},
	}, nil
}
