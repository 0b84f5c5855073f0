package store

import (
	"database/sql"
	"time"

	"github.com/amello/sheetgrader/internal/grading"
	"github.com/amello/sheetgrader/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the correction writes
// can run standalone or inside ApplyCorrection's transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// SaveResult persists a TestResult and its per-question answer rows in one
// transaction.
func (s *Store) SaveResult(result model.TestResult, graded []model.GradedQuestion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO test_results
		 (id, test_id, student_id, student_name, score, correct_count, error_count, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.TestID, result.StudentID, result.StudentName,
		result.Score, result.CorrectCount, result.ErrorCount, result.Status, result.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, gq := range graded {
		_, err := tx.Exec(
			`INSERT INTO student_test_answers (result_id, question_id, selected_option_id, is_correct)
			 VALUES (?, ?, ?, ?)`,
			result.ID, gq.QuestionID, gq.SelectedOptionID, gq.IsCorrect,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetResult returns a result by id, or nil when none exists.
func (s *Store) GetResult(resultID string) (*model.TestResult, error) {
	var r model.TestResult
	err := s.db.QueryRow(
		`SELECT id, test_id, student_id, student_name, score, correct_count, error_count, status, created_at, corrected_at
		 FROM test_results WHERE id = ?`, resultID,
	).Scan(&r.ID, &r.TestID, &r.StudentID, &r.StudentName, &r.Score, &r.CorrectCount,
		&r.ErrorCount, &r.Status, &r.CreatedAt, &r.CorrectedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResults returns all results, newest first.
func (s *Store) ListResults() ([]model.TestResult, error) {
	rows, err := s.db.Query(
		`SELECT id, test_id, student_id, student_name, score, correct_count, error_count, status, created_at, corrected_at
		 FROM test_results ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.TestResult
	for rows.Next() {
		var r model.TestResult
		if err := rows.Scan(&r.ID, &r.TestID, &r.StudentID, &r.StudentName, &r.Score, &r.CorrectCount,
			&r.ErrorCount, &r.Status, &r.CreatedAt, &r.CorrectedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// AnswersForResult returns all stored answer rows for a result.
func (s *Store) AnswersForResult(resultID string) ([]model.StudentTestAnswer, error) {
	return answersForResult(s.db, resultID)
}

func answersForResult(q querier, resultID string) ([]model.StudentTestAnswer, error) {
	rows, err := q.Query(
		`SELECT id, result_id, question_id, selected_option_id, is_correct
		 FROM student_test_answers WHERE result_id = ? ORDER BY id`, resultID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.StudentTestAnswer
	for rows.Next() {
		var a model.StudentTestAnswer
		if err := rows.Scan(&a.ID, &a.ResultID, &a.QuestionID, &a.SelectedOptionID, &a.IsCorrect); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// GetAnswer returns the stored answer for one question of a result, or nil.
func (s *Store) GetAnswer(resultID, questionID string) (*model.StudentTestAnswer, error) {
	var a model.StudentTestAnswer
	err := s.db.QueryRow(
		`SELECT id, result_id, question_id, selected_option_id, is_correct
		 FROM student_test_answers WHERE result_id = ? AND question_id = ?`, resultID, questionID,
	).Scan(&a.ID, &a.ResultID, &a.QuestionID, &a.SelectedOptionID, &a.IsCorrect)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertAnswer updates the stored answer for (result, question), inserting
// the row if grading never produced one.
func (s *Store) UpsertAnswer(resultID, questionID string, selectedOptionID *string, isCorrect bool) error {
	return upsertAnswer(s.db, resultID, questionID, selectedOptionID, isCorrect)
}

func upsertAnswer(q querier, resultID, questionID string, selectedOptionID *string, isCorrect bool) error {
	_, err := q.Exec(
		`INSERT INTO student_test_answers (result_id, question_id, selected_option_id, is_correct)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(result_id, question_id) DO UPDATE SET selected_option_id = ?, is_correct = ?`,
		resultID, questionID, selectedOptionID, isCorrect, selectedOptionID, isCorrect,
	)
	return err
}

// AppendCorrectionLog appends one immutable audit row. Correction logs are
// never updated or deleted; no such statement exists anywhere in this package.
func (s *Store) AppendCorrectionLog(log model.CorrectionLog) (int64, error) {
	return appendCorrectionLog(s.db, log)
}

func appendCorrectionLog(q querier, log model.CorrectionLog) (int64, error) {
	res, err := q.Exec(
		`INSERT INTO correction_logs
		 (result_id, question_id, previous_option_id, new_option_id, reason, corrected_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ResultID, log.QuestionID, log.PreviousOptionID, log.NewOptionID,
		log.Reason, log.CorrectedBy, log.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CorrectionsForResult returns a result's audit trail, oldest first.
func (s *Store) CorrectionsForResult(resultID string) ([]model.CorrectionLog, error) {
	rows, err := s.db.Query(
		`SELECT id, result_id, question_id, previous_option_id, new_option_id, reason, corrected_by, created_at
		 FROM correction_logs WHERE result_id = ? ORDER BY id`, resultID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []model.CorrectionLog
	for rows.Next() {
		var l model.CorrectionLog
		if err := rows.Scan(&l.ID, &l.ResultID, &l.QuestionID, &l.PreviousOptionID, &l.NewOptionID,
			&l.Reason, &l.CorrectedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// RecalculateScore re-derives a result's aggregate from the full set of its
// stored answer rows and persists it as a single update. This is the only
// statement in this package that changes a result's score after creation.
func (s *Store) RecalculateScore(resultID string) error {
	return recalculateScore(s.db, resultID)
}

func recalculateScore(q querier, resultID string) error {
	answers, err := answersForResult(q, resultID)
	if err != nil {
		return err
	}
	agg := grading.Recompute(answers)

	// Status flips to corrected only once an audit row exists, so a bare
	// recomputation of an untouched result leaves it in graded state.
	now := time.Now()
	_, err = q.Exec(
		`UPDATE test_results SET
			score = ?,
			correct_count = ?,
			error_count = ?,
			status = CASE WHEN EXISTS (SELECT 1 FROM correction_logs WHERE result_id = ?)
				THEN ? ELSE status END,
			corrected_at = CASE WHEN EXISTS (SELECT 1 FROM correction_logs WHERE result_id = ?)
				THEN ? ELSE corrected_at END
		 WHERE id = ?`,
		agg.Score, agg.CorrectCount, agg.ErrorCount,
		resultID, model.StatusCorrected,
		resultID, now,
		resultID,
	)
	return err
}

// ApplyCorrection performs one manual override as a single transaction:
// append the audit row, upsert the answer, recompute the aggregate from all
// answer rows. Either all three writes land or none do.
func (s *Store) ApplyCorrection(log model.CorrectionLog, isCorrect bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := appendCorrectionLog(tx, log); err != nil {
		return err
	}
	opt := log.NewOptionID
	if err := upsertAnswer(tx, log.ResultID, log.QuestionID, &opt, isCorrect); err != nil {
		return err
	}
	if err := recalculateScore(tx, log.ResultID); err != nil {
		return err
	}

	return tx.Commit()
}

// GetResultView returns a result together with its answers and audit trail.
func (s *Store) GetResultView(resultID string) (*model.ResultView, error) {
	result, err := s.GetResult(resultID)
	if err != nil || result == nil {
		return nil, err
	}
	answers, err := s.AnswersForResult(resultID)
	if err != nil {
		return nil, err
	}
	corrections, err := s.CorrectionsForResult(resultID)
	if err != nil {
		return nil, err
	}
	return &model.ResultView{Result: *result, Answers: answers, Corrections: corrections}, nil
}
