package store

import (
	"fmt"
	"time"

	"github.com/amello/sheetgrader/internal/model"
)

// ExportAllResults builds export-ready records for every stored result,
// including per-question answers (with question content and detected label)
// and the full correction trail.
func (s *Store) ExportAllResults() (model.ResultsExport, error) {
	results, err := s.ListResults()
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("list results: %w", err)
	}

	titles := make(map[string]string)

	export := model.ResultsExport{ExportedAt: time.Now(), NumResults: len(results)}
	for _, r := range results {
		title, ok := titles[r.TestID]
		if !ok {
			test, err := s.GetTestDetails(r.TestID)
			if err != nil {
				return model.ResultsExport{}, fmt.Errorf("get test %s: %w", r.TestID, err)
			}
			if test != nil {
				title = test.Title
			}
			titles[r.TestID] = title
		}

		answers, err := s.exportAnswers(r.ID)
		if err != nil {
			return model.ResultsExport{}, fmt.Errorf("answers for result %s: %w", r.ID, err)
		}

		logs, err := s.CorrectionsForResult(r.ID)
		if err != nil {
			return model.ResultsExport{}, fmt.Errorf("corrections for result %s: %w", r.ID, err)
		}
		var corrections []model.CorrectionExport
		for _, l := range logs {
			corrections = append(corrections, model.CorrectionExport{
				QuestionID:       l.QuestionID,
				PreviousOptionID: l.PreviousOptionID,
				NewOptionID:      l.NewOptionID,
				Reason:           l.Reason,
				CorrectedBy:      l.CorrectedBy,
				At:               l.CreatedAt,
			})
		}

		export.Results = append(export.Results, model.ResultExport{
			ResultID:     r.ID,
			TestID:       r.TestID,
			TestTitle:    title,
			StudentID:    r.StudentID,
			StudentName:  r.StudentName,
			Status:       r.Status,
			Score:        r.Score,
			CorrectCount: r.CorrectCount,
			ErrorCount:   r.ErrorCount,
			CreatedAt:    r.CreatedAt,
			CorrectedAt:  r.CorrectedAt,
			Answers:      answers,
			Corrections:  corrections,
		})
	}

	return export, nil
}

func (s *Store) exportAnswers(resultID string) ([]model.AnswerExport, error) {
	rows, err := s.db.Query(
		`SELECT a.question_id, q.content, a.selected_option_id, COALESCE(o.display_key, '-'), a.is_correct
		 FROM student_test_answers a
		 JOIN questions q ON q.id = a.question_id
		 LEFT JOIN options o ON o.id = a.selected_option_id
		 WHERE a.result_id = ?
		 ORDER BY q.position`, resultID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.AnswerExport
	for rows.Next() {
		var a model.AnswerExport
		if err := rows.Scan(&a.QuestionID, &a.QuestionContent, &a.SelectedOptionID, &a.SelectedOption, &a.IsCorrect); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
