package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/amello/sheetgrader/internal/model"
)

const authSessionTTL = 24 * time.Hour

// CreateGrader inserts a new grader account.
func (s *Store) CreateGrader(g model.Grader) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO graders (username, display_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		g.Username, g.DisplayName, g.PasswordHash, g.Role, g.Active, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create grader", "username", g.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created grader", "id", id, "username", g.Username, "role", g.Role)
	return id, nil
}

// GetGraderByUsername returns a grader by username, or nil.
func (s *Store) GetGraderByUsername(username string) (*model.Grader, error) {
	var g model.Grader
	err := s.db.QueryRow(
		`SELECT id, username, display_name, password_hash, role, active, created_at
		 FROM graders WHERE username = ?`, username,
	).Scan(&g.ID, &g.Username, &g.DisplayName, &g.PasswordHash, &g.Role, &g.Active, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGraderByID returns a grader by id, or nil.
func (s *Store) GetGraderByID(id int64) (*model.Grader, error) {
	var g model.Grader
	err := s.db.QueryRow(
		`SELECT id, username, display_name, password_hash, role, active, created_at
		 FROM graders WHERE id = ?`, id,
	).Scan(&g.ID, &g.Username, &g.DisplayName, &g.PasswordHash, &g.Role, &g.Active, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GraderCount returns the total number of grader accounts.
func (s *Store) GraderCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM graders`).Scan(&count)
	return count, err
}

// CreateAuthSession creates a new bearer token for a grader.
func (s *Store) CreateAuthSession(graderID int64) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO auth_sessions (id, grader_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, graderID, now, now.Add(authSessionTTL),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession returns the session for the given token, or nil if not
// found or expired.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := s.db.QueryRow(
		`SELECT id, grader_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.GraderID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes a session token.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions removes all expired auth sessions.
func (s *Store) CleanupExpiredSessions() error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
