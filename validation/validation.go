package validation

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/nijaru/duoscribe/config"
	"github.com/nijaru/duoscribe/errors"
	"github.com/nijaru/duoscribe/models"
)

const octetStream = "application/octet-stream"

type Validator struct {
	limits  config.LimitsConfig
	structs *validator.Validate
}

func NewValidator(limits config.LimitsConfig) *Validator {
	return &Validator{
		limits:  limits,
		structs: validator.New(),
	}
}

func (v *Validator) MaxVideoSize() int64 {
	return v.limits.MaxVideoSize
}

// ValidateVideo runs the pre-flight checks for an upload. An undeclared or
// generic MIME type is replaced by the sniffed one before the prefix check.
func (v *Validator) ValidateVideo(file models.VideoFile) (models.VideoFile, error) {
	const op = "Validator.ValidateVideo"

	size := file.Size
	if n := int64(len(file.Data)); n > size {
		size = n
	}
	if err := v.ValidateSize(size); err != nil {
		return file, err
	}
	if size == 0 {
		return file, errors.InvalidInput(op, nil, "File is empty.")
	}
	file.Size = size

	mimeType := baseMediaType(file.MIMEType)
	if mimeType == "" || mimeType == octetStream {
		mimeType = baseMediaType(mimetype.Detect(file.Data).String())
	}
	if !strings.HasPrefix(mimeType, "video/") {
		return file, errors.InvalidInput(op, nil, "Please upload a valid video file.")
	}
	file.MIMEType = mimeType

	return file, nil
}

// ValidateSize rejects a payload larger than the video limit.
func (v *Validator) ValidateSize(size int64) error {
	const op = "Validator.ValidateSize"

	if size > v.limits.MaxVideoSize {
		return errors.TooLarge(op, nil,
			fmt.Sprintf("File size exceeds %s limit.", humanize.IBytes(uint64(v.limits.MaxVideoSize))))
	}
	return nil
}

// ValidateText bounds the text buffer. Emptiness is not an error here; an
// empty buffer simply cannot be submitted.
func (v *Validator) ValidateText(text string) error {
	const op = "Validator.ValidateText"

	if len(text) > v.limits.MaxTextLength {
		return errors.TooLarge(op, nil,
			fmt.Sprintf("Text exceeds %s limit.", humanize.IBytes(uint64(v.limits.MaxTextLength))))
	}
	return nil
}

// ValidateStruct checks `validate` tags on request payloads.
func (v *Validator) ValidateStruct(s interface{}) error {
	const op = "Validator.ValidateStruct"

	if err := v.structs.Struct(s); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.InvalidInput(op, err, fmt.Sprintf("Field %s is invalid (%s)", fe.Field(), fe.Tag()))
		}
		return errors.InvalidInput(op, err, "Invalid request")
	}
	return nil
}

// RequestValidationOpts holds options for request validation
type RequestValidationOpts struct {
	MaxContentLength int64
	AllowedMethods   []string
	RequireJSON      bool
}

// ValidateRequest validates HTTP requests
func (v *Validator) ValidateRequest(r *http.Request, opts RequestValidationOpts) error {
	const op = "Validator.ValidateRequest"

	if len(opts.AllowedMethods) > 0 {
		methodAllowed := false
		for _, method := range opts.AllowedMethods {
			if r.Method == method {
				methodAllowed = true
				break
			}
		}
		if !methodAllowed {
			return errors.E(op, nil, fmt.Sprintf("Method %s not allowed", r.Method), http.StatusMethodNotAllowed)
		}
	}

	if opts.RequireJSON {
		if contentType := r.Header.Get("Content-Type"); !strings.Contains(contentType, "application/json") {
			return errors.InvalidInput(op, nil, "Content-Type must be application/json")
		}
	}

	if opts.MaxContentLength > 0 && r.ContentLength > opts.MaxContentLength {
		return errors.TooLarge(op, nil, "Request body too large")
	}

	return nil
}

func baseMediaType(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}
