package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nijaru/duoscribe/errors"
	"github.com/nijaru/duoscribe/export"
	"github.com/nijaru/duoscribe/middleware"
	"github.com/nijaru/duoscribe/models"
	"github.com/nijaru/duoscribe/utils"
	"github.com/nijaru/duoscribe/validation"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

type modeRequest struct {
	Mode string `json:"mode" validate:"required"`
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v interface{}) error {
	const op = "Server.readJSON"

	if err := s.validator.ValidateRequest(r, validation.RequestValidationOpts{
		MaxContentLength: maxBytes,
		RequireJSON:      true,
	}); err != nil {
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if pkgerrors.As(err, &maxErr) {
			return errors.TooLarge(op, err, "Request body too large")
		}
		return errors.InvalidInput(op, err, "Invalid JSON format")
	}
	return s.validator.ValidateStruct(v)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Create(r.Context())
	if err != nil {
		utils.RespondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+st.ID)
	utils.RespondJSON(w, r, http.StatusCreated, newSessionView(st))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondError(w, r, err)
		return
	}
	utils.RespondJSON(w, r, http.StatusOK, newSessionView(st))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		utils.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectMode(w http.ResponseWriter, r *http.Request) {
	const op = "Server.handleSelectMode"

	var req modeRequest
	if err := s.readJSON(w, r, 4<<10, &req); err != nil {
		utils.RespondError(w, r, err)
		return
	}
	mode, ok := models.ParseMode(req.Mode)
	if !ok {
		utils.RespondError(w, r, errors.InvalidInput(op, nil, "Mode must be VIDEO or TEXT"))
		return
	}

	st, err := s.sessions.SelectMode(r.Context(), chi.URLParam(r, "id"), mode)
	if err != nil {
		utils.RespondError(w, r, err)
		return
	}
	utils.RespondJSON(w, r, http.StatusOK, newSessionView(st))
}

// handleUploadFile accepts one multipart field named "file".
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	const op = "Server.handleUploadFile"

	limit := s.validator.MaxVideoSize() + multipartOverhead
	if r.ContentLength > limit {
		utils.RespondError(w, r, s.validator.ValidateSize(r.ContentLength))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if pkgerrors.As(err, &maxErr) {
			utils.RespondError(w, r, s.validator.ValidateSize(maxErr.Limit+1))
			return
		}
		utils.RespondError(w, r, errors.InvalidInput(op, err, "Expected a multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, r, errors.InvalidInput(op, err, "Missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, r, errors.Internal(op, err, "Failed to read upload"))
		return
	}

	st, err := s.sessions.SelectFile(r.Context(), chi.URLParam(r, "id"), models.VideoFile{
		Name:     header.Filename,
		Size:     header.Size,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	})
	if err != nil {
		utils.RespondError(w, r, err)
		return
	}
	utils.RespondJSON(w, r, http.StatusOK, newSessionView(st))
}

func (s *Server) handleSetText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	// Escaped JSON can take up to six bytes per byte of text.
	limit := int64(s.config.Limits.MaxTextLength)*6 + 4<<10
	if err := s.readJSON(w, r, limit, &req); err != nil {
		utils.RespondError(w, r, err)
		return
	}

	st, err := s.sessions.SetText(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		utils.RespondError(w, r, err)
		return
	}
	utils.RespondJSON(w, r, http.StatusOK, newSessionView(st))
}

// handleSubmit starts processing and returns at once; the outcome is read
// back through GET on the session.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	st, job, err := s.sessions.Begin(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondError(w, r, err)
		return
	}

	logger := middleware.GetLogger(r.Context()).WithFields(logrus.Fields{
		"session_id": job.SessionID,
		"generation": job.Generation,
	})
	logger.Info("Submission started")

	ctx := context.WithoutCancel(r.Context())
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			if p := recover(); p != nil {
				logger.WithField("panic", p).Error("Submission panicked")
			}
		}()
		if _, err := s.sessions.Run(ctx, job); err != nil {
			logger.WithError(err).Error("Submission could not be committed")
		}
	}()

	utils.RespondJSON(w, r, http.StatusAccepted, newSessionView(st))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Clear(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondError(w, r, err)
		return
	}
	utils.RespondJSON(w, r, http.StatusOK, newSessionView(st))
}

func (s *Server) resultFor(r *http.Request, op string) (*models.TranscriptionResult, error) {
	st, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if st.Result == nil || st.Processing.IsProcessing() {
		return nil, errors.NotFound(op, nil, "No result available")
	}
	return st.Result, nil
}

// handleCopyColumn returns one column as plain text for the clipboard.
func (s *Server) handleCopyColumn(w http.ResponseWriter, r *http.Request) {
	const op = "Server.handleCopyColumn"

	result, err := s.resultFor(r, op)
	if err != nil {
		utils.RespondError(w, r, err)
		return
	}

	var body string
	switch strings.ToLower(chi.URLParam(r, "column")) {
	case "original":
		body = result.Original
	case "indonesian":
		body = result.Indonesian
	default:
		utils.RespondError(w, r, errors.InvalidInput(op, nil, "Column must be original or indonesian"))
		return
	}
	utils.RespondText(w, export.ContentType, body, "")
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	result, err := s.resultFor(r, "Server.handleExport")
	if err != nil {
		utils.RespondError(w, r, err)
		return
	}
	utils.RespondText(w, export.ContentType, export.Document(*result), export.FileName)
}
