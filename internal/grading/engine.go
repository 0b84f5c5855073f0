package grading

import (
	"math"

	"github.com/amello/sheetgrader/internal/model"
)

// UnansweredMark is the display label recorded for questions the extraction
// produced no usable mark for.
const UnansweredMark = "-"

// GradeSheet grades an extracted sheet against a canonical test definition.
// It is a pure function: no side effects, deterministic for its inputs.
//
// One GradedQuestion row is emitted per question, in the test's question
// order, regardless of how many extracted answers were supplied. Extracted
// answers are matched to questions by 1-based position; option labels are
// matched case-sensitively within the question. Correctness is decided by
// option identity, never by label, so duplicate labels across questions
// cannot collide. A missing answer and an answer whose label matches no
// option both grade as wrong with a nil selected option id.
//
// GradeSheet assumes each question carries exactly one correct option and
// takes the first one flagged correct; it does not validate the test
// definition.
func GradeSheet(test model.Test, ext model.Extraction) model.GradeResult {
	// First extracted answer per position wins; duplicates from a noisy
	// extraction are ignored.
	selected := make(map[int]string, len(ext.Answers))
	for _, a := range ext.Answers {
		if a.QuestionNumber < 1 {
			continue
		}
		if _, ok := selected[a.QuestionNumber]; !ok {
			selected[a.QuestionNumber] = a.SelectedOption
		}
	}

	result := model.GradeResult{
		TestID:      test.ID,
		StudentName: ext.StudentName,
		Questions:   make([]model.GradedQuestion, 0, len(test.Questions)),
	}

	for idx, q := range test.Questions {
		gq := model.GradedQuestion{
			QuestionID:      q.ID,
			QuestionContent: q.Content,
			SelectedOption:  UnansweredMark,
		}

		for _, o := range q.Options {
			if o.IsCorrect {
				gq.CorrectOption = o.Key
				gq.CorrectOptionID = o.ID
				break
			}
		}

		if label, ok := selected[idx+1]; ok && label != "" {
			gq.SelectedOption = label
			for _, o := range q.Options {
				if o.Key == label {
					id := o.ID
					gq.SelectedOptionID = &id
					break
				}
			}
		}

		gq.IsCorrect = gq.SelectedOptionID != nil && *gq.SelectedOptionID == gq.CorrectOptionID
		if gq.IsCorrect {
			result.CorrectCount++
		}
		result.Questions = append(result.Questions, gq)
	}

	result.ErrorCount = len(test.Questions) - result.CorrectCount
	result.Score = Percent(result.CorrectCount, len(test.Questions))
	return result
}

// Percent returns round(correct/total*100) as an integer, or 0 when total is
// zero. Halves round up (math.Round rounds half away from zero and both
// counts are non-negative).
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

// Aggregate is a result's derived score summary.
type Aggregate struct {
	Score        int
	CorrectCount int
	ErrorCount   int
}

// Recompute derives a result aggregate from the complete set of stored
// answer rows. Always a full recomputation, never an incremental patch, so
// any prior drift between counters and rows is erased.
func Recompute(answers []model.StudentTestAnswer) Aggregate {
	var agg Aggregate
	for _, a := range answers {
		if a.IsCorrect {
			agg.CorrectCount++
		}
	}
	agg.ErrorCount = len(answers) - agg.CorrectCount
	agg.Score = Percent(agg.CorrectCount, len(answers))
	return agg
}
