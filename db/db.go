package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/nijaru/duoscribe/models"
	"github.com/nijaru/duoscribe/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    file_name TEXT,
    file_size INTEGER,
    file_mime TEXT,
    file_data BLOB,
    text TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    result_original TEXT,
    result_indonesian TEXT,
    result_raw TEXT,
    generation INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

const (
	upsertQuery = `
        INSERT INTO sessions (
            id, mode, file_name, file_size, file_mime, file_data,
            text, status, message,
            result_original, result_indonesian, result_raw,
            generation, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            mode = excluded.mode,
            file_name = excluded.file_name,
            file_size = excluded.file_size,
            file_mime = excluded.file_mime,
            file_data = excluded.file_data,
            text = excluded.text,
            status = excluded.status,
            message = excluded.message,
            result_original = excluded.result_original,
            result_indonesian = excluded.result_indonesian,
            result_raw = excluded.result_raw,
            generation = excluded.generation,
            updated_at = excluded.updated_at
    `

	selectQuery = `
        SELECT id, mode, file_name, file_size, file_mime, file_data,
               text, status, message,
               result_original, result_indonesian, result_raw,
               generation, created_at, updated_at
        FROM sessions WHERE id = ?
    `

	deleteQuery = `DELETE FROM sessions WHERE id = ?`

	expiredQuery = `SELECT id FROM sessions WHERE updated_at < ?`

	processingQuery = `SELECT id FROM sessions WHERE status = ?`
)

type Options struct {
	MaxRetries      int
	RetryDelay      time.Duration
	MaxConnections  int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:      3,
		RetryDelay:      100 * time.Millisecond,
		MaxConnections:  10,
		MaxIdle:         5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// SessionStore keeps session state in sqlite so a session survives a
// process restart until it expires.
type SessionStore struct {
	db     *sql.DB
	opts   Options
	logger *logrus.Logger
}

var _ session.Store = (*SessionStore)(nil)

func Open(dbPath string, opts Options, logger *logrus.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithField("path", dbPath).Info("Initializing database")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "error creating directory for database")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}

	db.SetMaxOpenConns(opts.MaxConnections)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := execSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SessionStore{db: db, opts: opts, logger: logger}, nil
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "failed to set pragma: %s", pragma)
		}
	}
	return nil
}

func execSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin schema transaction")
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return errors.Wrapf(err, "failed to execute schema statement: %s", stmt)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit schema")
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}

// withRetry retries fn while sqlite reports the database as busy.
func (s *SessionStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= s.opts.MaxRetries; i++ {
		if err = fn(); err == nil || !isLockError(err) {
			return err
		}
		s.logger.WithError(err).WithField("attempt", i+1).Warn("Database busy, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.RetryDelay * time.Duration(i+1)):
		}
	}
	return errors.Wrap(err, "max retries exceeded")
}

func isLockError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func (s *SessionStore) Save(ctx context.Context, st session.State) error {
	var (
		fileName, fileMIME sql.NullString
		fileSize           sql.NullInt64
		fileData           []byte
		original, indo     sql.NullString
		raw                sql.NullString
	)
	if st.File != nil {
		fileName = sql.NullString{String: st.File.Name, Valid: true}
		fileMIME = sql.NullString{String: st.File.MIMEType, Valid: true}
		fileSize = sql.NullInt64{Int64: st.File.Size, Valid: true}
		fileData = st.File.Data
	}
	if st.Result != nil {
		original = sql.NullString{String: st.Result.Original, Valid: true}
		indo = sql.NullString{String: st.Result.Indonesian, Valid: true}
		raw = sql.NullString{String: st.Result.Raw, Valid: true}
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, upsertQuery,
			st.ID, string(st.Mode),
			fileName, fileSize, fileMIME, fileData,
			st.Text, string(st.Processing.Status), st.Processing.Message,
			original, indo, raw,
			int64(st.Generation), st.CreatedAt.UTC(), st.UpdatedAt.UTC(),
		)
		return err
	})
	return errors.Wrapf(err, "error saving session %s", st.ID)
}

func (s *SessionStore) Load(ctx context.Context, id string) (session.State, error) {
	var (
		st                 session.State
		mode, status       string
		fileName, fileMIME sql.NullString
		fileSize           sql.NullInt64
		fileData           []byte
		original, indo     sql.NullString
		raw                sql.NullString
		generation         int64
	)

	err := s.db.QueryRowContext(ctx, selectQuery, id).Scan(
		&st.ID, &mode, &fileName, &fileSize, &fileMIME, &fileData,
		&st.Text, &status, &st.Processing.Message,
		&original, &indo, &raw,
		&generation, &st.CreatedAt, &st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return session.State{}, session.ErrNotFound
	}
	if err != nil {
		return session.State{}, errors.Wrapf(err, "error loading session %s", id)
	}

	st.Mode = models.Mode(mode)
	st.Processing.Status = models.Status(status)
	st.Generation = uint64(generation)
	if fileName.Valid {
		st.File = &models.VideoFile{
			Name:     fileName.String,
			Size:     fileSize.Int64,
			MIMEType: fileMIME.String,
			Data:     fileData,
		}
	}
	if original.Valid {
		st.Result = &models.TranscriptionResult{
			Original:   original.String,
			Indonesian: indo.String,
			Raw:        raw.String,
		}
	}
	return st, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	var affected int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, deleteQuery, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "error deleting session %s", id)
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) PurgeExpired(ctx context.Context, before time.Time) ([]string, error) {
	var ids []string
	err := s.withRetry(ctx, func() error {
		ids = ids[:0]

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, expiredQuery, before.UTC())
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, deleteQuery, id); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, errors.Wrap(err, "error purging expired sessions")
	}
	return ids, nil
}

func (s *SessionStore) ListProcessing(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, processingQuery, string(models.StatusProcessing))
	if err != nil {
		return nil, errors.Wrap(err, "error listing processing sessions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "error scanning session id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "error listing processing sessions")
}
