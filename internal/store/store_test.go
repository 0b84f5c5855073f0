package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/amello/sheetgrader/internal/grading"
	"github.com/amello/sheetgrader/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// makeTest builds a test with one question per given correct label, each
// question carrying options A..D.
func makeTest(id string, correct ...string) model.Test {
	test := model.Test{ID: id, Title: "Test " + id, CreatedAt: time.Now()}
	for i, c := range correct {
		q := model.Question{
			ID:       fmt.Sprintf("%s-q%d", id, i+1),
			TestID:   id,
			Position: i + 1,
			Content:  fmt.Sprintf("Question %d", i+1),
		}
		for _, key := range []string{"A", "B", "C", "D"} {
			q.Options = append(q.Options, model.Option{
				ID:         fmt.Sprintf("%s-%s", q.ID, key),
				QuestionID: q.ID,
				Key:        key,
				IsCorrect:  key == c,
			})
		}
		test.Questions = append(test.Questions, q)
	}
	return test
}

func seedTest(t *testing.T, s *Store, id string, correct ...string) model.Test {
	t.Helper()
	test := makeTest(id, correct...)
	if err := s.CreateTest(test); err != nil {
		t.Fatalf("seedTest: %v", err)
	}
	return test
}

// seedResult grades the given extraction against the test and persists it.
func seedResult(t *testing.T, s *Store, test model.Test, answers ...model.ExtractedAnswer) model.TestResult {
	t.Helper()
	grade := grading.GradeSheet(test, model.Extraction{StudentName: "Maria", Answers: answers})
	result := model.TestResult{
		ID:           "result-" + test.ID,
		TestID:       test.ID,
		StudentName:  grade.StudentName,
		Score:        grade.Score,
		CorrectCount: grade.CorrectCount,
		ErrorCount:   grade.ErrorCount,
		Status:       model.StatusGraded,
		CreatedAt:    time.Now(),
	}
	if err := s.SaveResult(result, grade.Questions); err != nil {
		t.Fatalf("seedResult: %v", err)
	}
	return result
}

func TestTestStorage(t *testing.T) {
	s := newTestStore(t)

	// Missing test yields nil, not an error.
	got, err := s.GetTestDetails("nope")
	if err != nil {
		t.Fatalf("GetTestDetails: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for missing test")
	}

	seedTest(t, s, "t1", "B", "A", "D")

	got, err = s.GetTestDetails("t1")
	if err != nil {
		t.Fatalf("GetTestDetails: %v", err)
	}
	if got == nil {
		t.Fatal("expected test")
	}
	if len(got.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(got.Questions))
	}
	for i, q := range got.Questions {
		if q.Position != i+1 {
			t.Errorf("question %d out of order: position %d", i, q.Position)
		}
		if len(q.Options) != 4 {
			t.Errorf("question %d: expected 4 options, got %d", i, len(q.Options))
		}
	}
	// Correct option of question 1 is B.
	var correctKey string
	for _, o := range got.Questions[0].Options {
		if o.IsCorrect {
			correctKey = o.Key
		}
	}
	if correctKey != "B" {
		t.Errorf("expected correct option B, got %q", correctKey)
	}

	tests, err := s.ListTests()
	if err != nil {
		t.Fatalf("ListTests: %v", err)
	}
	if len(tests) != 1 || tests[0].Title != "Test t1" {
		t.Errorf("unexpected test list: %+v", tests)
	}
}

func TestFindOption(t *testing.T) {
	s := newTestStore(t)
	seedTest(t, s, "t1", "B", "A")

	opt, err := s.FindOption("t1-q1", "t1-q1-B")
	if err != nil {
		t.Fatalf("FindOption: %v", err)
	}
	if opt == nil || !opt.IsCorrect {
		t.Fatalf("expected correct option, got %+v", opt)
	}

	// An option id from another question must not match.
	opt, err = s.FindOption("t1-q2", "t1-q1-B")
	if err != nil {
		t.Fatalf("FindOption: %v", err)
	}
	if opt != nil {
		t.Error("expected nil for option on wrong question")
	}

	opt, err = s.FindOption("t1-q1", "missing")
	if err != nil {
		t.Fatalf("FindOption: %v", err)
	}
	if opt != nil {
		t.Error("expected nil for missing option")
	}
}

func TestReleases(t *testing.T) {
	s := newTestStore(t)

	rel, err := s.GetRelease("nope")
	if err != nil {
		t.Fatalf("GetRelease: %v", err)
	}
	if rel != nil {
		t.Fatal("expected nil for missing release")
	}

	now := time.Now()
	err = s.CreateRelease(model.Release{
		ID: "rel-1", TestID: "t1", OpensAt: now, ClosesAt: now.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateRelease: %v", err)
	}

	rel, err = s.GetRelease("rel-1")
	if err != nil {
		t.Fatalf("GetRelease: %v", err)
	}
	if rel == nil || rel.TestID != "t1" {
		t.Fatalf("unexpected release: %+v", rel)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash("/some/tests.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash("/some/tests.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/tests.json")
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}

	if err := s.SetImportedFileHash("/some/tests.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/tests.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}

func TestSaveAndGetResult(t *testing.T) {
	s := newTestStore(t)
	test := seedTest(t, s, "t1", "B", "A", "D")
	result := seedResult(t, s, test,
		model.ExtractedAnswer{QuestionNumber: 1, SelectedOption: "B"},
		model.ExtractedAnswer{QuestionNumber: 2, SelectedOption: "C"},
	)

	got, err := s.GetResult(result.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got == nil {
		t.Fatal("expected result")
	}
	if got.Score != 33 || got.CorrectCount != 1 || got.ErrorCount != 2 {
		t.Errorf("unexpected aggregate: %d/%d/%d", got.Score, got.CorrectCount, got.ErrorCount)
	}
	if got.Status != model.StatusGraded {
		t.Errorf("expected graded status, got %q", got.Status)
	}
	if got.StudentID != nil {
		t.Error("expected nil student id")
	}
	if got.CorrectedAt != nil {
		t.Error("expected nil corrected_at before any correction")
	}

	answers, err := s.AnswersForResult(result.ID)
	if err != nil {
		t.Fatalf("AnswersForResult: %v", err)
	}
	if len(answers) != 3 {
		t.Fatalf("expected 3 answer rows, got %d", len(answers))
	}
	if answers[2].SelectedOptionID != nil {
		t.Error("expected nil selected option for unanswered question")
	}

	answer, err := s.GetAnswer(result.ID, "t1-q1")
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if answer == nil || !answer.IsCorrect {
		t.Fatalf("expected correct stored answer, got %+v", answer)
	}

	missing, err := s.GetResult("nope")
	if err != nil {
		t.Fatalf("GetResult missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing result")
	}

	results, err := s.ListResults()
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestUpsertAnswer(t *testing.T) {
	s := newTestStore(t)
	test := seedTest(t, s, "t1", "B", "A")
	result := seedResult(t, s, test,
		model.ExtractedAnswer{QuestionNumber: 1, SelectedOption: "C"},
	)

	// Update the existing row.
	opt := "t1-q1-B"
	if err := s.UpsertAnswer(result.ID, "t1-q1", &opt, true); err != nil {
		t.Fatalf("UpsertAnswer: %v", err)
	}
	answer, _ := s.GetAnswer(result.ID, "t1-q1")
	if answer == nil || answer.SelectedOptionID == nil || *answer.SelectedOptionID != opt || !answer.IsCorrect {
		t.Fatalf("expected updated answer, got %+v", answer)
	}

	// Row count must not grow on update.
	answers, _ := s.AnswersForResult(result.ID)
	if len(answers) != 2 {
		t.Fatalf("expected 2 answer rows after upsert, got %d", len(answers))
	}
}

func TestApplyCorrection(t *testing.T) {
	s := newTestStore(t)
	test := seedTest(t, s, "t1", "B", "A", "D", "C")
	// 2 of 4 correct: score 50.
	result := seedResult(t, s, test,
		model.ExtractedAnswer{QuestionNumber: 1, SelectedOption: "B"},
		model.ExtractedAnswer{QuestionNumber: 2, SelectedOption: "A"},
		model.ExtractedAnswer{QuestionNumber: 3, SelectedOption: "A"},
		model.ExtractedAnswer{QuestionNumber: 4, SelectedOption: "B"},
	)
	if result.Score != 50 {
		t.Fatalf("precondition: expected score 50, got %d", result.Score)
	}
	logsBefore, _ := s.CorrectionsForResult(result.ID)

	prev := "t1-q3-A"
	err := s.ApplyCorrection(model.CorrectionLog{
		ResultID:         result.ID,
		QuestionID:       "t1-q3",
		PreviousOptionID: &prev,
		NewOptionID:      "t1-q3-D",
		Reason:           "mark was an erasure, student chose D",
		CorrectedBy:      "prof.silva",
		CreatedAt:        time.Now(),
	}, true)
	if err != nil {
		t.Fatalf("ApplyCorrection: %v", err)
	}

	got, _ := s.GetResult(result.ID)
	if got.CorrectCount != 3 || got.ErrorCount != 1 || got.Score != 75 {
		t.Errorf("expected recomputed 3/1/75, got %d/%d/%d", got.CorrectCount, got.ErrorCount, got.Score)
	}
	if got.Status != model.StatusCorrected {
		t.Errorf("expected corrected status, got %q", got.Status)
	}
	if got.CorrectedAt == nil {
		t.Error("expected corrected_at to be set")
	}

	answer, _ := s.GetAnswer(result.ID, "t1-q3")
	if answer.SelectedOptionID == nil || *answer.SelectedOptionID != "t1-q3-D" || !answer.IsCorrect {
		t.Errorf("expected upserted answer, got %+v", answer)
	}

	logs, _ := s.CorrectionsForResult(result.ID)
	if len(logs) != len(logsBefore)+1 {
		t.Fatalf("expected exactly one new log row, had %d, have %d", len(logsBefore), len(logs))
	}
	log := logs[len(logs)-1]
	if log.PreviousOptionID == nil || *log.PreviousOptionID != prev {
		t.Errorf("expected previous option recorded, got %v", log.PreviousOptionID)
	}
	if log.CorrectedBy != "prof.silva" {
		t.Errorf("expected corrected_by recorded, got %q", log.CorrectedBy)
	}
}

func TestCorrectionLogsAreAppendOnly(t *testing.T) {
	s := newTestStore(t)
	test := seedTest(t, s, "t1", "B", "A")
	result := seedResult(t, s, test,
		model.ExtractedAnswer{QuestionNumber: 1, SelectedOption: "C"},
	)

	first := model.CorrectionLog{
		ResultID: result.ID, QuestionID: "t1-q1", NewOptionID: "t1-q1-B",
		Reason: "first pass", CorrectedBy: "prof.silva", CreatedAt: time.Now(),
	}
	if err := s.ApplyCorrection(first, true); err != nil {
		t.Fatalf("ApplyCorrection: %v", err)
	}
	second := model.CorrectionLog{
		ResultID: result.ID, QuestionID: "t1-q1", NewOptionID: "t1-q1-C",
		Reason: "reverting, the mark really was C", CorrectedBy: "prof.souza", CreatedAt: time.Now(),
	}
	if err := s.ApplyCorrection(second, false); err != nil {
		t.Fatalf("ApplyCorrection: %v", err)
	}

	logs, err := s.CorrectionsForResult(result.ID)
	if err != nil {
		t.Fatalf("CorrectionsForResult: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 log rows, got %d", len(logs))
	}
	// The earlier row is untouched by the later correction.
	if logs[0].Reason != "first pass" || logs[0].NewOptionID != "t1-q1-B" {
		t.Errorf("first log row mutated: %+v", logs[0])
	}
	if logs[1].CorrectedBy != "prof.souza" {
		t.Errorf("unexpected second log row: %+v", logs[1])
	}
}

func TestRecalculateScore(t *testing.T) {
	s := newTestStore(t)
	test := seedTest(t, s, "t1", "B", "A", "D")
	result := seedResult(t, s, test,
		model.ExtractedAnswer{QuestionNumber: 1, SelectedOption: "B"},
	)

	// Recomputing an untouched result is idempotent and keeps graded status.
	if err := s.RecalculateScore(result.ID); err != nil {
		t.Fatalf("RecalculateScore: %v", err)
	}
	first, _ := s.GetResult(result.ID)
	if err := s.RecalculateScore(result.ID); err != nil {
		t.Fatalf("RecalculateScore again: %v", err)
	}
	second, _ := s.GetResult(result.ID)
	if first.Score != second.Score || first.CorrectCount != second.CorrectCount {
		t.Errorf("recomputation not idempotent: %+v vs %+v", first, second)
	}
	if second.Status != model.StatusGraded {
		t.Errorf("recompute without corrections must not change status, got %q", second.Status)
	}

	// Drifted counters are repaired from the answer rows.
	opt := "t1-q2-A"
	if err := s.UpsertAnswer(result.ID, "t1-q2", &opt, true); err != nil {
		t.Fatalf("UpsertAnswer: %v", err)
	}
	if err := s.RecalculateScore(result.ID); err != nil {
		t.Fatalf("RecalculateScore: %v", err)
	}
	got, _ := s.GetResult(result.ID)
	if got.CorrectCount != 2 || got.Score != 67 {
		t.Errorf("expected repaired aggregate 2/67, got %d/%d", got.CorrectCount, got.Score)
	}
}

func TestGetResultView(t *testing.T) {
	s := newTestStore(t)
	test := seedTest(t, s, "t1", "B", "A")
	result := seedResult(t, s, test,
		model.ExtractedAnswer{QuestionNumber: 1, SelectedOption: "B"},
	)
	if err := s.ApplyCorrection(model.CorrectionLog{
		ResultID: result.ID, QuestionID: "t1-q2", NewOptionID: "t1-q2-A",
		Reason: "faint pencil mark on A", CorrectedBy: "prof.silva", CreatedAt: time.Now(),
	}, true); err != nil {
		t.Fatalf("ApplyCorrection: %v", err)
	}

	view, err := s.GetResultView(result.ID)
	if err != nil {
		t.Fatalf("GetResultView: %v", err)
	}
	if view == nil {
		t.Fatal("expected view")
	}
	if len(view.Answers) != 2 || len(view.Corrections) != 1 {
		t.Errorf("expected 2 answers and 1 correction, got %d / %d", len(view.Answers), len(view.Corrections))
	}
	if view.Result.Score != 100 {
		t.Errorf("expected corrected score 100, got %d", view.Result.Score)
	}

	missing, err := s.GetResultView("nope")
	if err != nil {
		t.Fatalf("GetResultView missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil view for missing result")
	}
}

func TestGraderAccounts(t *testing.T) {
	s := newTestStore(t)

	count, err := s.GraderCount()
	if err != nil {
		t.Fatalf("GraderCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 graders, got %d", count)
	}

	id, err := s.CreateGrader(model.Grader{
		Username:     "prof.silva",
		DisplayName:  "Prof. Silva",
		PasswordHash: "hash",
		Role:         model.RoleGrader,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateGrader: %v", err)
	}

	g, err := s.GetGraderByUsername("prof.silva")
	if err != nil {
		t.Fatalf("GetGraderByUsername: %v", err)
	}
	if g == nil || g.ID != id || g.Role != model.RoleGrader {
		t.Fatalf("unexpected grader: %+v", g)
	}

	byID, err := s.GetGraderByID(id)
	if err != nil {
		t.Fatalf("GetGraderByID: %v", err)
	}
	if byID == nil || byID.Username != "prof.silva" {
		t.Fatalf("unexpected grader: %+v", byID)
	}

	missing, err := s.GetGraderByUsername("nope")
	if err != nil {
		t.Fatalf("GetGraderByUsername missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing grader")
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateGrader(model.Grader{
		Username: "prof.silva", DisplayName: "Prof. Silva", PasswordHash: "hash",
		Role: model.RoleGrader, Active: true,
	})
	if err != nil {
		t.Fatalf("CreateGrader: %v", err)
	}

	token, err := s.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	sess, err := s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess == nil || sess.GraderID != id {
		t.Fatalf("unexpected session: %+v", sess)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	sess, err = s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession after delete: %v", err)
	}
	if sess != nil {
		t.Error("expected nil session after delete")
	}
}

func TestExportAllResults(t *testing.T) {
	s := newTestStore(t)
	test := seedTest(t, s, "t1", "B", "A")
	result := seedResult(t, s, test,
		model.ExtractedAnswer{QuestionNumber: 1, SelectedOption: "B"},
	)
	if err := s.ApplyCorrection(model.CorrectionLog{
		ResultID: result.ID, QuestionID: "t1-q2", NewOptionID: "t1-q2-A",
		Reason: "faint mark", CorrectedBy: "prof.silva", CreatedAt: time.Now(),
	}, true); err != nil {
		t.Fatalf("ApplyCorrection: %v", err)
	}

	export, err := s.ExportAllResults()
	if err != nil {
		t.Fatalf("ExportAllResults: %v", err)
	}
	if export.NumResults != 1 || len(export.Results) != 1 {
		t.Fatalf("expected 1 exported result, got %d", len(export.Results))
	}
	re := export.Results[0]
	if re.TestTitle != "Test t1" {
		t.Errorf("expected test title, got %q", re.TestTitle)
	}
	if len(re.Answers) != 2 {
		t.Fatalf("expected 2 exported answers, got %d", len(re.Answers))
	}
	if re.Answers[0].SelectedOption != "B" {
		t.Errorf("expected detected label 'B', got %q", re.Answers[0].SelectedOption)
	}
	if len(re.Corrections) != 1 || re.Corrections[0].CorrectedBy != "prof.silva" {
		t.Errorf("unexpected corrections: %+v", re.Corrections)
	}
	if re.Status != model.StatusCorrected || re.Score != 100 {
		t.Errorf("expected corrected result at 100, got %q / %d", re.Status, re.Score)
	}
}
