package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/internal/storage/models"
	"github.com/support-copilot/backend/pkg/logger"
)

// Answer is the harness-facing slice of a query response: the routed
// pool and the ranked document IDs.
type Answer struct {
	AnswerType search.Pool
	ResultIDs  []string
}

// Runner executes one evaluation question against a query path.
type Runner interface {
	Run(ctx context.Context, question string) (*Answer, error)
}

type Store interface {
	ListQuestions(ctx context.Context, limit int) ([]models.Question, error)
	InsertEvaluationRun(ctx context.Context, run *models.EvaluationRun) error
}

type Config struct {
	MaxConcurrent int
	QuestionLimit int
}

func DefaultConfig() Config {
	return Config{MaxConcurrent: 5, QuestionLimit: 100}
}

// Bucket aggregates retrieval quality for one slice of the question
// set, such as a difficulty level or an answer type.
type Bucket struct {
	Total                  int     `json:"total"`
	Hit1                   int     `json:"hit_1"`
	Hit5                   int     `json:"hit_5"`
	Hit10                  int     `json:"hit_10"`
	ClassificationCorrect  int     `json:"classification_correct"`
	HitAt1                 float64 `json:"hit_at_1"`
	HitAt5                 float64 `json:"hit_at_5"`
	HitAt10                float64 `json:"hit_at_10"`
	ClassificationAccuracy float64 `json:"classification_accuracy"`
}

type QuestionResult struct {
	QuestionID   string `json:"question_id"`
	ExpectedType string `json:"expected_type"`
	ActualType   string `json:"actual_type"`
	Difficulty   string `json:"difficulty"`
	TargetID     string `json:"target_id"`
	TargetRank   int    `json:"target_rank"` // 0 when not retrieved
	Err          string `json:"error,omitempty"`
}

type Report struct {
	Mode         string             `json:"mode"`
	Total        int                `json:"total"`
	Errors       int                `json:"errors"`
	Overall      Bucket             `json:"overall"`
	ByDifficulty map[string]*Bucket `json:"by_difficulty"`
	ByAnswerType map[string]*Bucket `json:"by_answer_type"`
	Questions    []QuestionResult   `json:"questions"`
	Duration     time.Duration      `json:"-"`
}

type Harness struct {
	runner Runner
	store  Store
	cfg    Config
}

func NewHarness(runner Runner, store Store, cfg Config) *Harness {
	return &Harness{runner: runner, store: store, cfg: cfg}
}

// Run executes the ground-truth question set against the configured
// query path with bounded concurrency and persists the run summary.
// A question that errors counts against the error tally, never the
// hit rates.
func (h *Harness) Run(ctx context.Context, mode string) (*Report, error) {
	questions, err := h.store.ListQuestions(ctx, h.cfg.QuestionLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluation questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no evaluation questions available")
	}

	logger.Info("evaluation run starting",
		zap.String("mode", mode),
		zap.Int("questions", len(questions)),
		zap.Int("max_concurrent", h.cfg.MaxConcurrent))

	start := time.Now()
	results := make([]QuestionResult, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.MaxConcurrent)
	for i := range questions {
		i := i
		g.Go(func() error {
			results[i] = h.evaluate(gctx, questions[i])
			return nil
		})
	}
	_ = g.Wait()

	report := buildReport(mode, results)
	report.Duration = time.Since(start)

	if err := h.persist(ctx, report); err != nil {
		logger.Error("failed to persist evaluation run", zap.Error(err))
	}

	logger.Info("evaluation run finished",
		zap.String("mode", mode),
		zap.Float64("hit_at_5", report.Overall.HitAt5),
		zap.Int("errors", report.Errors),
		zap.Duration("duration", report.Duration))

	return report, nil
}

func (h *Harness) evaluate(ctx context.Context, q models.Question) QuestionResult {
	result := QuestionResult{
		QuestionID:   q.ID,
		ExpectedType: q.AnswerType,
		Difficulty:   q.Difficulty,
		TargetID:     q.TargetID,
	}

	answer, err := h.runner.Run(ctx, q.Text)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.ActualType = string(answer.AnswerType)
	for rank, id := range answer.ResultIDs {
		if id == q.TargetID {
			result.TargetRank = rank + 1
			break
		}
	}
	return result
}

func buildReport(mode string, results []QuestionResult) *Report {
	report := &Report{
		Mode:         mode,
		Total:        len(results),
		ByDifficulty: map[string]*Bucket{},
		ByAnswerType: map[string]*Bucket{},
		Questions:    results,
	}

	bucket := func(m map[string]*Bucket, key string) *Bucket {
		if key == "" {
			key = "unknown"
		}
		b, ok := m[key]
		if !ok {
			b = &Bucket{}
			m[key] = b
		}
		return b
	}

	for _, r := range results {
		if r.Err != "" {
			report.Errors++
			continue
		}
		targets := []*Bucket{
			&report.Overall,
			bucket(report.ByAnswerType, r.ExpectedType),
			bucket(report.ByDifficulty, r.Difficulty),
		}
		for _, b := range targets {
			b.Total++
			if r.ActualType == r.ExpectedType {
				b.ClassificationCorrect++
			}
			if r.TargetRank == 1 {
				b.Hit1++
			}
			if r.TargetRank >= 1 && r.TargetRank <= 5 {
				b.Hit5++
			}
			if r.TargetRank >= 1 && r.TargetRank <= 10 {
				b.Hit10++
			}
		}
	}

	report.Overall.finalize()
	for _, b := range report.ByAnswerType {
		b.finalize()
	}
	for _, b := range report.ByDifficulty {
		b.finalize()
	}
	return report
}

func (b *Bucket) finalize() {
	if b.Total == 0 {
		return
	}
	n := float64(b.Total)
	b.HitAt1 = float64(b.Hit1) / n
	b.HitAt5 = float64(b.Hit5) / n
	b.HitAt10 = float64(b.Hit10) / n
	b.ClassificationAccuracy = float64(b.ClassificationCorrect) / n
}

func (h *Harness) persist(ctx context.Context, report *Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return h.store.InsertEvaluationRun(ctx, &models.EvaluationRun{
		ID:                     uuid.New().String(),
		Mode:                   report.Mode,
		TotalQuestions:         report.Total,
		Errors:                 report.Errors,
		ClassificationAccuracy: report.Overall.ClassificationAccuracy,
		HitAt1:                 report.Overall.HitAt1,
		HitAt5:                 report.Overall.HitAt5,
		HitAt10:                report.Overall.HitAt10,
		ReportJSON:             string(payload),
		CreatedAt:              time.Now().UTC(),
	})
}

// Format renders the report as an aligned text table for CLI output.
func (r *Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluation run (%s): %d questions, %d errors, %s\n",
		r.Mode, r.Total, r.Errors, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "\n%-20s %8s %8s %8s %8s %8s\n", "slice", "n", "hit@1", "hit@5", "hit@10", "class")
	writeRow := func(name string, bkt *Bucket) {
		fmt.Fprintf(&b, "%-20s %8d %7.1f%% %7.1f%% %7.1f%% %7.1f%%\n",
			name, bkt.Total, bkt.HitAt1*100, bkt.HitAt5*100, bkt.HitAt10*100, bkt.ClassificationAccuracy*100)
	}
	writeRow("overall", &r.Overall)
	for _, name := range sortedKeys(r.ByAnswerType) {
		writeRow(name, r.ByAnswerType[name])
	}
	for _, name := range sortedKeys(r.ByDifficulty) {
		writeRow("difficulty:"+name, r.ByDifficulty[name])
	}
	return b.String()
}

func sortedKeys(m map[string]*Bucket) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
