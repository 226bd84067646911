package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nijaru/duoscribe/encoder"
	"github.com/nijaru/duoscribe/errors"
	"github.com/nijaru/duoscribe/models"
	"github.com/nijaru/duoscribe/transcription"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrCannotSubmit is returned by Begin when the active input is empty or a
// submission is already in flight.
var ErrCannotSubmit = errors.Conflict("Controller.Begin", nil,
	"Nothing to submit or a submission is already in progress.")

// Processor turns one input into a result. *transcription.Client satisfies it.
type Processor interface {
	Process(ctx context.Context, in transcription.Input) (*models.TranscriptionResult, error)
}

type Validator interface {
	ValidateVideo(file models.VideoFile) (models.VideoFile, error)
	ValidateText(text string) error
}

// Job is the input snapshot taken when a submission begins.
type Job struct {
	SessionID  string
	Generation uint64
	Mode       models.Mode
	File       *models.VideoFile
	Text       string
}

type Controller struct {
	store     Store
	processor Processor
	validator Validator
	logger    *logrus.Logger
	ttl       time.Duration

	locks sync.Map
	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() string
}

func NewController(store Store, processor Processor, validator Validator, ttl time.Duration, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		store:     store,
		processor: processor,
		validator: validator,
		logger:    logger,
		ttl:       ttl,
		Now:       time.Now,
		NewID:     func() string { return uuid.New().String() },
	}
}

func (c *Controller) lock(id string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (c *Controller) load(ctx context.Context, op, id string) (State, error) {
	s, err := c.store.Load(ctx, id)
	if err != nil {
		if pkgerrors.Is(err, ErrNotFound) {
			return State{}, errors.NotFound(op, err, "Session not found")
		}
		return State{}, errors.Internal(op, err, "Failed to load session")
	}
	return s, nil
}

func (c *Controller) save(ctx context.Context, op string, s State) error {
	if err := c.store.Save(ctx, s); err != nil {
		return errors.Internal(op, err, "Failed to save session")
	}
	return nil
}

// update applies fn to the stored state under the session lock and saves
// the result. When fn fails the stored state is left alone.
func (c *Controller) update(ctx context.Context, op, id string, fn func(State) (State, error)) (State, error) {
	mu := c.lock(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.load(ctx, op, id)
	if err != nil {
		return State{}, err
	}
	next, err := fn(s)
	if err != nil {
		return s, err
	}
	if err := c.save(ctx, op, next); err != nil {
		return s, err
	}
	return next, nil
}

func (c *Controller) Create(ctx context.Context) (State, error) {
	const op = "Controller.Create"

	s := New(c.NewID(), c.Now())
	if err := c.save(ctx, op, s); err != nil {
		return State{}, err
	}
	c.logger.WithField("session_id", s.ID).Info("Session created")
	return s, nil
}

func (c *Controller) Get(ctx context.Context, id string) (State, error) {
	return c.load(ctx, "Controller.Get", id)
}

func (c *Controller) SelectMode(ctx context.Context, id string, mode models.Mode) (State, error) {
	return c.update(ctx, "Controller.SelectMode", id, func(s State) (State, error) {
		return SelectMode(s, mode, c.Now()), nil
	})
}

// SelectFile validates the upload before touching the session; a rejected
// file leaves the state as it was.
func (c *Controller) SelectFile(ctx context.Context, id string, file models.VideoFile) (State, error) {
	const op = "Controller.SelectFile"

	return c.update(ctx, op, id, func(s State) (State, error) {
		if s.Mode != models.ModeVideo {
			return s, errors.InvalidInput(op, nil, "Switch to video mode to upload a file.")
		}
		valid, err := c.validator.ValidateVideo(file)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"session_id": id,
				"file":       file.Name,
				"size":       file.Size,
			}).WithError(err).Warn("Video rejected")
			return s, err
		}
		return SelectFile(s, valid, c.Now()), nil
	})
}

func (c *Controller) SetText(ctx context.Context, id, text string) (State, error) {
	const op = "Controller.SetText"

	return c.update(ctx, op, id, func(s State) (State, error) {
		if s.Mode != models.ModeText {
			return s, errors.InvalidInput(op, nil, "Switch to text mode to enter text.")
		}
		if err := c.validator.ValidateText(text); err != nil {
			return s, err
		}
		return SetText(s, text, c.Now()), nil
	})
}

func (c *Controller) Clear(ctx context.Context, id string) (State, error) {
	return c.update(ctx, "Controller.Clear", id, func(s State) (State, error) {
		return Clear(s, c.Now()), nil
	})
}

func (c *Controller) Delete(ctx context.Context, id string) error {
	const op = "Controller.Delete"

	mu := c.lock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := c.store.Delete(ctx, id); err != nil {
		if pkgerrors.Is(err, ErrNotFound) {
			return errors.NotFound(op, err, "Session not found")
		}
		return errors.Internal(op, err, "Failed to delete session")
	}
	c.locks.Delete(id)
	c.logger.WithField("session_id", id).Info("Session deleted")
	return nil
}

// Begin moves the session to processing and returns the job to run. A
// refused submission returns ErrCannotSubmit with the state untouched.
func (c *Controller) Begin(ctx context.Context, id string) (State, Job, error) {
	var job Job
	s, err := c.update(ctx, "Controller.Begin", id, func(s State) (State, error) {
		if !CanSubmit(s) {
			return s, ErrCannotSubmit
		}
		next := Begin(s, c.Now())
		job = Job{
			SessionID:  next.ID,
			Generation: next.Generation,
			Mode:       next.Mode,
			File:       next.File,
			Text:       next.Text,
		}
		return next, nil
	})
	if err != nil {
		return s, Job{}, err
	}
	return s, job, nil
}

// Run encodes the job's input, calls the processor and commits the outcome.
// A result for a generation the session has moved past is dropped.
func (c *Controller) Run(ctx context.Context, job Job) (State, error) {
	const op = "Controller.Run"

	logger := c.logger.WithFields(logrus.Fields{
		"session_id": job.SessionID,
		"generation": job.Generation,
		"mode":       job.Mode,
	})

	start := c.Now()
	result, procErr := c.process(ctx, job)

	mu := c.lock(job.SessionID)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.load(ctx, op, job.SessionID)
	if err != nil {
		if errors.IsNotFound(err) {
			c.locks.Delete(job.SessionID)
		}
		logger.WithError(err).Warn("Session gone before result arrived")
		return State{}, err
	}
	if s.Generation != job.Generation || !s.Processing.IsProcessing() {
		logger.WithField("current_generation", s.Generation).Info("Discarding stale result")
		return s, nil
	}

	if procErr != nil {
		logger.WithError(procErr).Error("Processing failed")
		s = Fail(s, c.Now())
	} else {
		logger.WithField("duration", c.Now().Sub(start)).Info("Processing succeeded")
		s = Succeed(s, *result, c.Now())
	}

	if err := c.save(ctx, op, s); err != nil {
		logger.WithError(err).Error("Failed to commit result")
		return s, err
	}
	return s, nil
}

func (c *Controller) process(ctx context.Context, job Job) (*models.TranscriptionResult, error) {
	var in transcription.Input
	switch job.Mode {
	case models.ModeVideo:
		if job.File == nil {
			return nil, pkgerrors.New("no file selected")
		}
		in = transcription.VideoInput{
			Data:     encoder.Encode(job.File.Data),
			MIMEType: job.File.MIMEType,
		}
	case models.ModeText:
		in = transcription.TextInput{Content: job.Text}
	default:
		return nil, pkgerrors.Errorf("unknown mode %q", job.Mode)
	}
	return c.processor.Process(ctx, in)
}

// Submit runs a submission to completion on the caller's goroutine.
func (c *Controller) Submit(ctx context.Context, id string) (State, error) {
	s, job, err := c.Begin(ctx, id)
	if err != nil {
		return s, err
	}
	return c.Run(ctx, job)
}

// Recover fails every session left in processing by a previous process.
// Nothing is in flight at startup, so none of those calls can complete.
func (c *Controller) Recover(ctx context.Context) (int, error) {
	const op = "Controller.Recover"

	ids, err := c.store.ListProcessing(ctx)
	if err != nil {
		return 0, errors.Internal(op, err, "Failed to list processing sessions")
	}

	recovered := 0
	for _, id := range ids {
		_, err := c.update(ctx, op, id, func(s State) (State, error) {
			if !s.Processing.IsProcessing() {
				return s, nil
			}
			s = Fail(s, c.Now())
			s.Generation++
			return s, nil
		})
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		c.logger.WithField("count", recovered).Warn("Failed sessions interrupted by restart")
	}
	return recovered, nil
}

// PurgeExpired drops sessions idle for longer than the TTL.
func (c *Controller) PurgeExpired(ctx context.Context) (int, error) {
	const op = "Controller.PurgeExpired"

	ids, err := c.store.PurgeExpired(ctx, c.Now().Add(-c.ttl))
	if err != nil {
		return 0, errors.Internal(op, err, "Failed to purge sessions")
	}
	for _, id := range ids {
		c.locks.Delete(id)
	}
	if len(ids) > 0 {
		c.logger.WithField("count", len(ids)).Info("Purged expired sessions")
	}
	return len(ids), nil
}

// Start purges expired sessions every interval until ctx is done.
func (c *Controller) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.PurgeExpired(ctx); err != nil {
				c.logger.WithError(err).Error("Session purge failed")
			}
		}
	}
}
