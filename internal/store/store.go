package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/amello/sheetgrader/internal/model"
)

// Store is the SQLite-backed persistence layer. It implements the grading
// service's TestRepository and ReleaseRepository interfaces.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tests (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		test_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		content TEXT NOT NULL,
		UNIQUE (test_id, position),
		FOREIGN KEY (test_id) REFERENCES tests(id)
	);

	CREATE TABLE IF NOT EXISTS options (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		display_key TEXT NOT NULL,
		is_correct BOOLEAN NOT NULL DEFAULT 0,
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS releases (
		id TEXT PRIMARY KEY,
		test_id TEXT NOT NULL DEFAULT '',
		opens_at DATETIME,
		closes_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS test_results (
		id TEXT PRIMARY KEY,
		test_id TEXT NOT NULL,
		student_id TEXT,
		student_name TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		correct_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'graded',
		created_at DATETIME NOT NULL,
		corrected_at DATETIME,
		FOREIGN KEY (test_id) REFERENCES tests(id)
	);

	CREATE TABLE IF NOT EXISTS student_test_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		result_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		selected_option_id TEXT,
		is_correct BOOLEAN NOT NULL DEFAULT 0,
		UNIQUE (result_id, question_id),
		FOREIGN KEY (result_id) REFERENCES test_results(id)
	);

	CREATE TABLE IF NOT EXISTS correction_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		result_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		previous_option_id TEXT,
		new_option_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		corrected_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (result_id) REFERENCES test_results(id)
	);

	CREATE TABLE IF NOT EXISTS graders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'grader',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		grader_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (grader_id) REFERENCES graders(id)
	);

	CREATE TABLE IF NOT EXISTS import_hashes (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateTest stores a canonical test with its questions and options in one
// transaction. Ids are assigned by the caller.
func (s *Store) CreateTest(t model.Test) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO tests (id, title, created_at) VALUES (?, ?, ?)`,
		t.ID, t.Title, t.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, q := range t.Questions {
		_, err := tx.Exec(
			`INSERT INTO questions (id, test_id, position, content) VALUES (?, ?, ?, ?)`,
			q.ID, t.ID, q.Position, q.Content,
		)
		if err != nil {
			return err
		}
		for _, o := range q.Options {
			_, err := tx.Exec(
				`INSERT INTO options (id, question_id, display_key, is_correct) VALUES (?, ?, ?, ?)`,
				o.ID, q.ID, o.Key, o.IsCorrect,
			)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetTestDetails returns a test with its questions in position order and
// each question's options, or nil when no such test exists.
func (s *Store) GetTestDetails(testID string) (*model.Test, error) {
	var t model.Test
	err := s.db.QueryRow(
		`SELECT id, title, created_at FROM tests WHERE id = ?`, testID,
	).Scan(&t.ID, &t.Title, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, test_id, position, content FROM questions WHERE test_id = ? ORDER BY position`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TestID, &q.Position, &q.Content); err != nil {
			return nil, err
		}
		t.Questions = append(t.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range t.Questions {
		opts, err := s.optionsForQuestion(t.Questions[i].ID)
		if err != nil {
			return nil, err
		}
		t.Questions[i].Options = opts
	}
	return &t, nil
}

func (s *Store) optionsForQuestion(questionID string) ([]model.Option, error) {
	rows, err := s.db.Query(
		`SELECT id, question_id, display_key, is_correct FROM options WHERE question_id = ? ORDER BY display_key`,
		questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var options []model.Option
	for rows.Next() {
		var o model.Option
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Key, &o.IsCorrect); err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

// ListTests returns all stored tests without their question trees.
func (s *Store) ListTests() ([]model.Test, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at FROM tests ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []model.Test
	for rows.Next() {
		var t model.Test
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// FindOption returns the option with the given id on the given question, or
// nil if the option does not exist or belongs to another question.
func (s *Store) FindOption(questionID, optionID string) (*model.Option, error) {
	var o model.Option
	err := s.db.QueryRow(
		`SELECT id, question_id, display_key, is_correct FROM options WHERE id = ? AND question_id = ?`,
		optionID, questionID,
	).Scan(&o.ID, &o.QuestionID, &o.Key, &o.IsCorrect)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateRelease stores a release record.
func (s *Store) CreateRelease(rel model.Release) error {
	_, err := s.db.Exec(
		`INSERT INTO releases (id, test_id, opens_at, closes_at) VALUES (?, ?, ?, ?)`,
		rel.ID, rel.TestID, rel.OpensAt, rel.ClosesAt,
	)
	return err
}

// GetRelease returns a release by id, or nil when none exists.
func (s *Store) GetRelease(releaseID string) (*model.Release, error) {
	var rel model.Release
	err := s.db.QueryRow(
		`SELECT id, test_id, opens_at, closes_at FROM releases WHERE id = ?`, releaseID,
	).Scan(&rel.ID, &rel.TestID, &rel.OpensAt, &rel.ClosesAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// GetImportedFileHash returns the recorded content hash for an imported
// file path, or empty string if the path was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM import_hashes WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the content hash for an imported file path.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO import_hashes (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?`,
		path, hash, hash,
	)
	return err
}
