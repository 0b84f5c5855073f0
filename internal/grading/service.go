package grading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amello/sheetgrader/internal/model"
)

// TestRepository is the persistence surface the grading service needs for
// tests, results, answers and correction logs. Lookup methods return nil
// (not an error) when the entity does not exist.
type TestRepository interface {
	GetTestDetails(testID string) (*model.Test, error)
	SaveResult(result model.TestResult, graded []model.GradedQuestion) error
	GetResult(resultID string) (*model.TestResult, error)
	AnswersForResult(resultID string) ([]model.StudentTestAnswer, error)
	GetAnswer(resultID, questionID string) (*model.StudentTestAnswer, error)
	FindOption(questionID, optionID string) (*model.Option, error)
	// ApplyCorrection performs the three correction writes as one unit:
	// append the log row, upsert the answer row, recompute the aggregate
	// from the full answer set.
	ApplyCorrection(log model.CorrectionLog, isCorrect bool) error
	RecalculateScore(resultID string) error
}

// ReleaseRepository resolves release ids to releases.
type ReleaseRepository interface {
	GetRelease(releaseID string) (*model.Release, error)
}

// SheetAnalyzer decodes a scanned answer-sheet image into a structured
// extraction. Implementations call an external vision model; its output is
// tolerated, not trusted: empty or partial extractions are valid input to
// grading.
type SheetAnalyzer interface {
	AnalyzeSheet(ctx context.Context, image []byte) (model.Extraction, error)
}

// Service orchestrates sheet grading and the correction ledger.
type Service struct {
	tests    TestRepository
	releases ReleaseRepository
	analyzer SheetAnalyzer
}

// NewService creates a grading service.
func NewService(tests TestRepository, releases ReleaseRepository, analyzer SheetAnalyzer) *Service {
	return &Service{tests: tests, releases: releases, analyzer: analyzer}
}

// ResolveTestID determines which test a sheet belongs to.
//
// A supplied release id takes priority and is authoritative: if the release
// is missing or carries no test id, resolution fails with ErrReleaseNotFound
// rather than falling back to the sheet-embedded id. Without a release the
// vision-decoded test id is trusted; if that is also empty, ErrTestIDNotFound.
func (s *Service) ResolveTestID(ext model.Extraction, releaseID string) (string, error) {
	if releaseID != "" {
		rel, err := s.releases.GetRelease(releaseID)
		if err != nil {
			return "", fmt.Errorf("resolve release %s: %w", releaseID, err)
		}
		if rel == nil || rel.TestID == "" {
			return "", fmt.Errorf("release %s: %w", releaseID, ErrReleaseNotFound)
		}
		return rel.TestID, nil
	}
	if ext.TestID != "" {
		return ext.TestID, nil
	}
	return "", ErrTestIDNotFound
}

// GradeSheetImage runs the full grading pipeline for one sheet image:
// vision extraction, test resolution, canonical test fetch, grading.
// It has no side effects; persisting the outcome is a separate, explicit
// SaveResult call, so an abandoned grading call leaves no residue.
//
// testIDOverride, when non-empty, replaces the sheet-embedded test id before
// resolution; a release id still wins over it.
func (s *Service) GradeSheetImage(ctx context.Context, image []byte, releaseID, testIDOverride string) (*model.GradeResult, error) {
	ext, err := s.analyzer.AnalyzeSheet(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("analyze sheet: %w", err)
	}
	if testIDOverride != "" {
		ext.TestID = testIDOverride
	}

	testID, err := s.ResolveTestID(ext, releaseID)
	if err != nil {
		return nil, err
	}

	test, err := s.tests.GetTestDetails(testID)
	if err != nil {
		return nil, fmt.Errorf("get test %s: %w", testID, err)
	}
	if test == nil {
		return nil, fmt.Errorf("test %s: %w", testID, ErrTestNotFound)
	}

	result := GradeSheet(*test, ext)
	return &result, nil
}

// SaveResult persists a grade as a new TestResult with its answer rows.
// studentID may be nil: a sheet can be graded before it is linked to a known
// student.
func (s *Service) SaveResult(grade model.GradeResult, studentID *string) (model.TestResult, error) {
	result := model.TestResult{
		ID:           uuid.NewString(),
		TestID:       grade.TestID,
		StudentID:    studentID,
		StudentName:  grade.StudentName,
		Score:        grade.Score,
		CorrectCount: grade.CorrectCount,
		ErrorCount:   grade.ErrorCount,
		Status:       model.StatusGraded,
		CreatedAt:    time.Now(),
	}
	if err := s.tests.SaveResult(result, grade.Questions); err != nil {
		return model.TestResult{}, fmt.Errorf("save result: %w", err)
	}
	return result, nil
}

// RecordCorrection applies one human override to a graded answer: it appends
// an immutable correction-log row, upserts the stored answer, and recomputes
// the result aggregate from the full answer set. The three writes run as one
// unit in the repository; a correction is not considered applied until the
// aggregate is recomputed.
//
// previousOptionID is what the audit row records as the pre-correction pick;
// when nil it is read from the currently stored answer. correctedBy is the
// acting grader's identity, passed explicitly by the caller.
func (s *Service) RecordCorrection(resultID, questionID, newOptionID string, previousOptionID *string, reason, correctedBy string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}

	result, err := s.tests.GetResult(resultID)
	if err != nil {
		return fmt.Errorf("get result %s: %w", resultID, err)
	}
	if result == nil {
		return fmt.Errorf("result %s: %w", resultID, ErrResultNotFound)
	}

	opt, err := s.tests.FindOption(questionID, newOptionID)
	if err != nil {
		return fmt.Errorf("find option %s: %w", newOptionID, err)
	}
	if opt == nil {
		return fmt.Errorf("option %s on question %s: %w", newOptionID, questionID, ErrOptionNotFound)
	}

	if previousOptionID == nil {
		answer, err := s.tests.GetAnswer(resultID, questionID)
		if err != nil {
			return fmt.Errorf("get answer: %w", err)
		}
		if answer != nil {
			previousOptionID = answer.SelectedOptionID
		}
	}

	log := model.CorrectionLog{
		ResultID:         resultID,
		QuestionID:       questionID,
		PreviousOptionID: previousOptionID,
		NewOptionID:      newOptionID,
		Reason:           reason,
		CorrectedBy:      correctedBy,
		CreatedAt:        time.Now(),
	}
	if err := s.tests.ApplyCorrection(log, opt.IsCorrect); err != nil {
		return fmt.Errorf("apply correction: %w", err)
	}
	return nil
}

// RecalculateScore re-derives a result's aggregate from all of its stored
// answer rows and persists it. Idempotent when no answers changed in between.
func (s *Service) RecalculateScore(resultID string) error {
	result, err := s.tests.GetResult(resultID)
	if err != nil {
		return fmt.Errorf("get result %s: %w", resultID, err)
	}
	if result == nil {
		return fmt.Errorf("result %s: %w", resultID, ErrResultNotFound)
	}
	if err := s.tests.RecalculateScore(resultID); err != nil {
		return fmt.Errorf("recalculate score: %w", err)
	}
	return nil
}
