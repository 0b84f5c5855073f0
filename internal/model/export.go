package model

import "time"

// ResultsExport is the top-level JSON structure for result export.
type ResultsExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	NumResults int            `json:"num_results"`
	Results    []ResultExport `json:"results"`
}

// ResultExport holds one graded sheet's data for export.
type ResultExport struct {
	ResultID     string             `json:"result_id"`
	TestID       string             `json:"test_id"`
	TestTitle    string             `json:"test_title"`
	StudentID    *string            `json:"student_id,omitempty"`
	StudentName  string             `json:"student_name"`
	Status       ResultStatus       `json:"status"`
	Score        int                `json:"score"`
	CorrectCount int                `json:"correct_count"`
	ErrorCount   int                `json:"error_count"`
	CreatedAt    time.Time          `json:"created_at"`
	CorrectedAt  *time.Time         `json:"corrected_at,omitempty"`
	Answers      []AnswerExport     `json:"answers"`
	Corrections  []CorrectionExport `json:"corrections"`
}

// AnswerExport is one per-question answer row for export.
type AnswerExport struct {
	QuestionID       string  `json:"question_id"`
	QuestionContent  string  `json:"question_content"`
	SelectedOptionID *string `json:"selected_option_id"`
	SelectedOption   string  `json:"selected_option"`
	IsCorrect        bool    `json:"is_correct"`
}

// CorrectionExport is one audit-trail entry for export.
type CorrectionExport struct {
	QuestionID       string    `json:"question_id"`
	PreviousOptionID *string   `json:"previous_option_id"`
	NewOptionID      string    `json:"new_option_id"`
	Reason           string    `json:"reason"`
	CorrectedBy      string    `json:"corrected_by"`
	At               time.Time `json:"at"`
}
