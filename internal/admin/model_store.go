package admin

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	nervis "github.com/ferro-labs/ner-visualizer"
)

// ModelStore persists the model list saved through the management APIs.
type ModelStore interface {
	Save(models []nervis.ModelConfig) error
	Load() ([]nervis.ModelConfig, bool, error)
	Delete() error
}

type sqlModelDialect string

const (
	modelDialectSQLite   sqlModelDialect = "sqlite"
	modelDialectPostgres sqlModelDialect = "postgres"
)

// SQLModelStore keeps the model list in SQLite or Postgres.
type SQLModelStore struct {
	db      *sql.DB
	dialect sqlModelDialect
}

// OpenModelStore returns the store for driver: a SQL store for "sqlite" or
// "postgres", otherwise a FileModelStore at modelsFile.
func OpenModelStore(driver, dsn, modelsFile string) (ModelStore, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteModelStore(dsn)
	case "postgres":
		return NewPostgresModelStore(dsn)
	case "":
		return NewFileModelStore(modelsFile), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// NewSQLiteModelStore opens the SQLite store at dsn.
func NewSQLiteModelStore(dsn string) (*SQLModelStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "nervis-models.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite model store: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLModelStore{db: db, dialect: modelDialectSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresModelStore opens the Postgres store at dsn.
func NewPostgresModelStore(dsn string) (*SQLModelStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres model store: %w", err)
	}
	s := &SQLModelStore{db: db, dialect: modelDialectPostgres}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLModelStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s model store: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS model_config (
	id INTEGER PRIMARY KEY,
	models_json TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

	if s.dialect == modelDialectPostgres {
		ddl = `
CREATE TABLE IF NOT EXISTS model_config (
	id SMALLINT PRIMARY KEY,
	models_json TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize model schema: %w", err)
	}
	return nil
}

// Save replaces the stored model list.
func (s *SQLModelStore) Save(models []nervis.ModelConfig) error {
	data, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("marshal models: %w", err)
	}

	upsert := `
INSERT INTO model_config(id, models_json, updated_at)
VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET models_json = excluded.models_json, updated_at = excluded.updated_at`

	if s.dialect == modelDialectPostgres {
		upsert = `
INSERT INTO model_config(id, models_json, updated_at)
VALUES(1, $1, $2)
ON CONFLICT(id) DO UPDATE SET models_json = EXCLUDED.models_json, updated_at = EXCLUDED.updated_at`
	}

	if _, err := s.db.Exec(upsert, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("save models: %w", err)
	}
	return nil
}

// Load returns the stored model list. ok is false when nothing was saved.
func (s *SQLModelStore) Load() ([]nervis.ModelConfig, bool, error) {
	row := s.db.QueryRow(`SELECT models_json FROM model_config WHERE id = 1`)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load models: %w", err)
	}

	var models []nervis.ModelConfig
	if err := json.Unmarshal([]byte(raw), &models); err != nil {
		return nil, false, fmt.Errorf("decode models: %w", err)
	}
	return models, true, nil
}

// Delete removes the stored model list.
func (s *SQLModelStore) Delete() error {
	if _, err := s.db.Exec(`DELETE FROM model_config WHERE id = 1`); err != nil {
		return fmt.Errorf("delete models: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLModelStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FileModelStore keeps the model list as a JSON array in one file.
type FileModelStore struct {
	mu   sync.Mutex
	path string
}

// NewFileModelStore returns a store writing to path.
func NewFileModelStore(path string) *FileModelStore {
	if path == "" {
		path = nervis.DefaultModelsFile
	}
	return &FileModelStore{path: path}
}

// Path returns the file the store writes to.
func (s *FileModelStore) Path() string { return s.path }

// Save writes models to a temporary file and renames it over the target.
func (s *FileModelStore) Save(models []nervis.ModelConfig) error {
	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal models: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".models-*.json")
	if err != nil {
		return fmt.Errorf("save models: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("save models: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save models: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save models: %w", err)
	}
	return nil
}

// Load reads the model list. A missing file is not an error.
func (s *FileModelStore) Load() ([]nervis.ModelConfig, bool, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load models: %w", err)
	}
	models, err := nervis.ParseModels(data)
	if err != nil {
		return nil, false, fmt.Errorf("load models from %s: %w", s.path, err)
	}
	return models, true, nil
}

// Delete removes the file.
func (s *FileModelStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete models: %w", err)
	}
	return nil
}
