package model

import (
	"context"
	"time"
)

// GraderRole represents a grader account's access level.
type GraderRole string

const (
	// RoleGrader can grade sheets and record corrections.
	RoleGrader GraderRole = "grader"
	// RoleAdmin can additionally manage grader accounts.
	RoleAdmin GraderRole = "admin"
)

// Grader represents a human grader account.
type Grader struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         GraderRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents a bearer-token authentication session.
type AuthSession struct {
	ID        string
	GraderID  int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type graderCtxKey struct{}

// ContextWithGrader stores a grader in the request context.
func ContextWithGrader(ctx context.Context, g *Grader) context.Context {
	return context.WithValue(ctx, graderCtxKey{}, g)
}

// GraderFromContext retrieves the authenticated grader from context, or nil.
func GraderFromContext(ctx context.Context) *Grader {
	g, _ := ctx.Value(graderCtxKey{}).(*Grader)
	return g
}

// Test is a canonical test definition: an ordered sequence of questions.
// Read-only from the grading engine's perspective.
type Test struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	CreatedAt time.Time  `json:"created_at"`
}

// Question is one question within a test. Position is 1-based within the
// test's question order; extracted answers reference questions by position.
type Question struct {
	ID       string   `json:"id"`
	TestID   string   `json:"test_id"`
	Position int      `json:"position"`
	Content  string   `json:"content"`
	Options  []Option `json:"options"`
}

// Option is one answer choice. Correctness comparisons always use the option
// ID, never the display key: two questions may both label an option "A".
type Option struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	Key        string `json:"key"`
	IsCorrect  bool   `json:"is_correct"`
}

// Release binds a test to a scheduling window. When a sheet is graded under a
// release, the release's test id is authoritative.
type Release struct {
	ID       string    `json:"id"`
	TestID   string    `json:"test_id"`
	OpensAt  time.Time `json:"opens_at"`
	ClosesAt time.Time `json:"closes_at"`
}

// Extraction is the vision model's structured decoding of a sheet image.
// Transient: consumed immediately by grading, never persisted verbatim.
type Extraction struct {
	TestID      string            `json:"test_id"`
	StudentName string            `json:"student_name"`
	Answers     []ExtractedAnswer `json:"answers"`
}

// ExtractedAnswer is one detected mark: a 1-based question position and the
// selected option's display label (empty when the model saw no mark).
type ExtractedAnswer struct {
	QuestionNumber int    `json:"question_number"`
	SelectedOption string `json:"selected_option"`
}

// GradedQuestion is one graded row, emitted once per question in test order.
type GradedQuestion struct {
	QuestionID       string  `json:"question_id"`
	QuestionContent  string  `json:"question_content"`
	SelectedOption   string  `json:"selected_option"`
	SelectedOptionID *string `json:"selected_option_id"`
	CorrectOption    string  `json:"correct_option"`
	CorrectOptionID  string  `json:"correct_option_id"`
	IsCorrect        bool    `json:"is_correct"`
}

// GradeResult is the full outcome of grading one sheet against one test.
type GradeResult struct {
	TestID       string           `json:"test_id"`
	StudentName  string           `json:"student_name"`
	Questions    []GradedQuestion `json:"questions"`
	CorrectCount int              `json:"correct_count"`
	ErrorCount   int              `json:"error_count"`
	Score        int              `json:"score"`
}

// ResultStatus represents the lifecycle state of a persisted result.
type ResultStatus string

const (
	// StatusGraded is the state right after a grade is saved.
	StatusGraded ResultStatus = "graded"
	// StatusCorrected is entered after the first manual correction and
	// re-entered by every further one. There is no terminal state.
	StatusCorrected ResultStatus = "corrected"
)

// TestResult is the persisted aggregate for one graded sheet.
// Whenever CorrectCount+ErrorCount > 0, Score equals
// round(CorrectCount/(CorrectCount+ErrorCount)*100).
type TestResult struct {
	ID           string       `json:"id"`
	TestID       string       `json:"test_id"`
	StudentID    *string      `json:"student_id,omitempty"`
	StudentName  string       `json:"student_name"`
	Score        int          `json:"score"`
	CorrectCount int          `json:"correct_count"`
	ErrorCount   int          `json:"error_count"`
	Status       ResultStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	CorrectedAt  *time.Time   `json:"corrected_at,omitempty"`
}

// StudentTestAnswer is one stored per-question answer row of a result.
// Rows are created in a batch with the result and later mutated only by
// corrections (upsert keyed on result + question).
type StudentTestAnswer struct {
	ID               int64   `json:"id"`
	ResultID         string  `json:"result_id"`
	QuestionID       string  `json:"question_id"`
	SelectedOptionID *string `json:"selected_option_id"`
	IsCorrect        bool    `json:"is_correct"`
}

// CorrectionLog is the append-only audit record of one manual override.
// Log rows are never mutated or deleted once written.
type CorrectionLog struct {
	ID               int64     `json:"id"`
	ResultID         string    `json:"result_id"`
	QuestionID       string    `json:"question_id"`
	PreviousOptionID *string   `json:"previous_option_id"`
	NewOptionID      string    `json:"new_option_id"`
	Reason           string    `json:"reason"`
	CorrectedBy      string    `json:"corrected_by"`
	CreatedAt        time.Time `json:"created_at"`
}

// TestImport is used for loading canonical tests from JSON files.
type TestImport struct {
	Title     string           `json:"title"`
	Questions []QuestionImport `json:"questions"`
}

// QuestionImport is one question in an imported test file. Options are given
// in display order; exactly one should be marked correct.
type QuestionImport struct {
	Content string         `json:"content"`
	Options []OptionImport `json:"options"`
}

// OptionImport is one option in an imported question.
type OptionImport struct {
	Key       string `json:"key"`
	IsCorrect bool   `json:"is_correct"`
}

// ResultView combines a result with its answers and correction trail for display.
type ResultView struct {
	Result      TestResult          `json:"result"`
	Answers     []StudentTestAnswer `json:"answers"`
	Corrections []CorrectionLog     `json:"corrections"`
}
