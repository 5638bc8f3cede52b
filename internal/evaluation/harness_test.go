package evaluation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/internal/storage/models"
)

type fakeRunner struct {
	answers map[string]*Answer
	errs    map[string]error
	delay   time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeRunner) Run(_ context.Context, question string) (*Answer, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if current <= max || f.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.errs[question]; err != nil {
		return nil, err
	}
	if a := f.answers[question]; a != nil {
		return a, nil
	}
	return &Answer{AnswerType: search.PoolArticle}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	questions []models.Question
	listErr   error
	run       *models.EvaluationRun
}

func (f *fakeStore) ListQuestions(_ context.Context, limit int) ([]models.Question, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.questions) > limit {
		return f.questions[:limit], nil
	}
	return f.questions, nil
}

func (f *fakeStore) InsertEvaluationRun(_ context.Context, run *models.EvaluationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = run
	return nil
}

func question(id, text, answerType, targetID, difficulty string) models.Question {
	return models.Question{ID: id, Text: text, AnswerType: answerType, TargetID: targetID, Difficulty: difficulty}
}

func TestRun_ComputesHitRatesAndAccuracy(t *testing.T) {
	store := &fakeStore{questions: []models.Question{
		question("Q1", "q one", "SCRIPT", "SCRIPT-0001", "easy"),
		question("Q2", "q two", "KNOWLEDGE_ARTICLE", "KB-0002", "easy"),
		question("Q3", "q three", "CASE_RESOLUTION", "CASE-0003", "hard"),
		question("Q4", "q four", "SCRIPT", "SCRIPT-0004", "hard"),
	}}
	runner := &fakeRunner{answers: map[string]*Answer{
		// hit@1, correct classification
		"q one": {AnswerType: search.PoolScript, ResultIDs: []string{"SCRIPT-0001", "X"}},
		// hit@5 (rank 3), correct classification
		"q two": {AnswerType: search.PoolArticle, ResultIDs: []string{"X", "Y", "KB-0002"}},
		// miss, wrong classification
		"q three": {AnswerType: search.PoolArticle, ResultIDs: []string{"X"}},
		// hit@10 (rank 7), correct classification
		"q four": {AnswerType: search.PoolScript, ResultIDs: []string{"a", "b", "c", "d", "e", "f", "SCRIPT-0004"}},
	}}

	h := NewHarness(runner, store, DefaultConfig())
	report, err := h.Run(context.Background(), "ask")
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Zero(t, report.Errors)
	assert.Equal(t, 0.25, report.Overall.HitAt1)
	assert.Equal(t, 0.5, report.Overall.HitAt5)
	assert.Equal(t, 0.75, report.Overall.HitAt10)
	assert.Equal(t, 0.75, report.Overall.ClassificationAccuracy)

	easy := report.ByDifficulty["easy"]
	require.NotNil(t, easy)
	assert.Equal(t, 2, easy.Total)
	assert.Equal(t, 1.0, easy.HitAt5)

	script := report.ByAnswerType["SCRIPT"]
	require.NotNil(t, script)
	assert.Equal(t, 2, script.Total)
	assert.Equal(t, 1.0, script.ClassificationAccuracy)
}

func TestRun_ErrorsCountedSeparately(t *testing.T) {
	store := &fakeStore{questions: []models.Question{
		question("Q1", "q one", "SCRIPT", "SCRIPT-0001", "easy"),
		question("Q2", "q two", "SCRIPT", "SCRIPT-0002", "easy"),
	}}
	runner := &fakeRunner{
		answers: map[string]*Answer{
			"q one": {AnswerType: search.PoolScript, ResultIDs: []string{"SCRIPT-0001"}},
		},
		errs: map[string]error{"q two": errors.New("embedding provider down")},
	}

	h := NewHarness(runner, store, DefaultConfig())
	report, err := h.Run(context.Background(), "ask")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Errors)
	// Rates are over the single successful question.
	assert.Equal(t, 1, report.Overall.Total)
	assert.Equal(t, 1.0, report.Overall.HitAt1)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	questions := make([]models.Question, 0, 20)
	for i := 0; i < 20; i++ {
		questions = append(questions, question(
			"Q", "generic question", "KNOWLEDGE_ARTICLE", "KB-X", "easy"))
	}
	store := &fakeStore{questions: questions}
	runner := &fakeRunner{delay: 10 * time.Millisecond}

	cfg := Config{MaxConcurrent: 3, QuestionLimit: 100}
	h := NewHarness(runner, store, cfg)

	_, err := h.Run(context.Background(), "ask")
	require.NoError(t, err)

	assert.LessOrEqual(t, runner.maxInFlight.Load(), int32(3))
	assert.Greater(t, runner.maxInFlight.Load(), int32(1))
}

func TestRun_PersistsRunSummary(t *testing.T) {
	store := &fakeStore{questions: []models.Question{
		question("Q1", "q one", "SCRIPT", "SCRIPT-0001", "easy"),
	}}
	runner := &fakeRunner{answers: map[string]*Answer{
		"q one": {AnswerType: search.PoolScript, ResultIDs: []string{"SCRIPT-0001"}},
	}}

	h := NewHarness(runner, store, DefaultConfig())
	_, err := h.Run(context.Background(), "research")
	require.NoError(t, err)

	require.NotNil(t, store.run)
	assert.Equal(t, "research", store.run.Mode)
	assert.Equal(t, 1, store.run.TotalQuestions)
	assert.Equal(t, 1.0, store.run.HitAt1)
	assert.NotEmpty(t, store.run.ReportJSON)
	assert.NotEmpty(t, store.run.ID)
}

func TestRun_QuestionLimitApplied(t *testing.T) {
	questions := make([]models.Question, 0, 10)
	for i := 0; i < 10; i++ {
		questions = append(questions, question("Q", "generic", "SCRIPT", "S", "easy"))
	}
	store := &fakeStore{questions: questions}
	runner := &fakeRunner{}

	h := NewHarness(runner, store, Config{MaxConcurrent: 2, QuestionLimit: 4})
	report, err := h.Run(context.Background(), "ask")
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
}

func TestRun_NoQuestionsIsAnError(t *testing.T) {
	h := NewHarness(&fakeRunner{}, &fakeStore{}, DefaultConfig())
	_, err := h.Run(context.Background(), "ask")
	require.Error(t, err)
}

func TestReportFormat(t *testing.T) {
	report := buildReport("ask", []QuestionResult{
		{QuestionID: "Q1", ExpectedType: "SCRIPT", ActualType: "SCRIPT", TargetRank: 1, Difficulty: "easy"},
		{QuestionID: "Q2", ExpectedType: "SCRIPT", ActualType: "KNOWLEDGE_ARTICLE", Difficulty: "hard"},
	})

	out := report.Format()
	assert.Contains(t, out, "overall")
	assert.Contains(t, out, "SCRIPT")
	assert.Contains(t, out, "difficulty:easy")
	assert.Contains(t, out, "difficulty:hard")
}
