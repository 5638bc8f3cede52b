package research

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/support-copilot/backend/internal/llm"
	"github.com/support-copilot/backend/internal/metrics"
	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/internal/triage"
	"github.com/support-copilot/backend/pkg/logger"
)

// Reasoner covers the model calls the deep path needs beyond triage.
type Reasoner interface {
	Classify(ctx context.Context, question string) llm.Classification
	Decompose(ctx context.Context, question string, maxSubQueries int) ([]llm.SubQuery, bool)
	Rerank(ctx context.Context, question string, candidates []llm.Candidate) ([]string, error)
	Synthesize(ctx context.Context, question string, candidates []llm.Candidate) (*llm.ResearchReport, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type PoolSearcher interface {
	Search(ctx context.Context, pool search.Pool, queryText string, queryVector []float32, limit int) ([]search.FusedResult, bool, error)
}

// Baseline runs the same primary-plus-secondary sweep the quick path
// uses, so deep research never returns less than a plain ask would.
type Baseline interface {
	SearchPools(ctx context.Context, classification llm.Classification, vector []float32) ([]triage.RankedResult, []string)
}

type Config struct {
	MaxSubQueries    int
	ResultsPerQuery  int
	MaxContextItems  int
	EnableReranking  bool
	RerankCandidates int
	StageTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxSubQueries:    4,
		ResultsPerQuery:  5,
		MaxContextItems:  15,
		EnableReranking:  true,
		RerankCandidates: 10,
		StageTimeout:     20 * time.Second,
	}
}

// ProgressFunc receives stage transitions for streaming to the caller.
// Stages arrive in order but the hook must tolerate being called from
// the orchestrator goroutine only.
type ProgressFunc func(stage, message string)

const (
	StagePlanning     = "planning"
	StageSearching    = "searching"
	StageReranking    = "reranking"
	StageSynthesizing = "synthesizing"
	StageComplete     = "complete"
)

type Agent struct {
	reasoner Reasoner
	embedder Embedder
	searcher PoolSearcher
	baseline Baseline
	cfg      Config
}

func NewAgent(reasoner Reasoner, embedder Embedder, searcher PoolSearcher, baseline Baseline, cfg Config) *Agent {
	return &Agent{
		reasoner: reasoner,
		embedder: embedder,
		searcher: searcher,
		baseline: baseline,
		cfg:      cfg,
	}
}

type Meta struct {
	SubQueryCount         int      `json:"sub_query_count"`
	ContextSize           int      `json:"context_size"`
	Reranked              bool     `json:"reranked"`
	SynthesisMode         string   `json:"synthesis_mode"`
	TotalTimeMS           float64  `json:"total_time_ms"`
	Warnings              []string `json:"warnings,omitempty"`
	DecompositionFallback bool     `json:"decomposition_fallback,omitempty"`
}

type Response struct {
	Classification llm.Classification    `json:"classification"`
	SubQueries     []llm.SubQuery        `json:"sub_queries"`
	Results        []triage.RankedResult `json:"results"`
	Report         *llm.ResearchReport   `json:"report"`
	Meta           Meta                  `json:"meta"`
}

// Research runs the deep path: plan the question into sub-queries,
// fan the searches out alongside the baseline sweep, then rerank and
// synthesize over the merged context. Partial stage failures degrade
// the response instead of failing it; only embedding failure is fatal.
func (a *Agent) Research(ctx context.Context, question string, progress ProgressFunc) (*Response, error) {
	start := time.Now()
	notify := func(stage, message string) {
		if progress != nil {
			progress(stage, message)
		}
	}

	notify(StagePlanning, "classifying question and planning sub-queries")

	var (
		classification llm.Classification
		subQueries     []llm.SubQuery
		decompFallback bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		classification = a.reasoner.Classify(gctx, question)
		return nil
	})
	g.Go(func() error {
		subQueries, decompFallback = a.reasoner.Decompose(gctx, question, a.cfg.MaxSubQueries)
		return nil
	})
	_ = g.Wait()

	metrics.ClassificationConfidence.Observe(classification.Confidence)

	warnings := []string{}
	if classification.Degraded {
		warnings = append(warnings, "classification degraded; primary pool is the broad-coverage default")
	}
	if decompFallback {
		warnings = append(warnings, "decomposition fell back to the original question")
	}

	// One embedding call covers the baseline query plus every
	// sub-query. A failure here leaves nothing to search with.
	texts := make([]string, 0, len(subQueries)+1)
	texts = append(texts, classification.SearchQuery)
	for _, sq := range subQueries {
		texts = append(texts, sq.Query)
	}
	vectors, err := a.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("research", "error").Inc()
		return nil, fmt.Errorf("failed to embed research queries: %w", err)
	}

	notify(StageSearching, fmt.Sprintf("running %d sub-query searches plus baseline", len(subQueries)))

	merged, searchWarnings := a.fanOutSearches(ctx, classification, subQueries, vectors)
	warnings = append(warnings, searchWarnings...)

	if len(merged) > a.cfg.MaxContextItems {
		merged = merged[:a.cfg.MaxContextItems]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}

	candidates := toCandidates(merged)

	// Reranking reorders what the caller sees; synthesis reads the
	// whole context set regardless of order. The two calls are
	// independent, so they run concurrently.
	var (
		report        *llm.ResearchReport
		synthesisMode = "llm"
		reranked      bool
		stageWG       sync.WaitGroup
		rerankWarn    string
		synthWarn     string
	)

	if a.cfg.EnableReranking && len(candidates) > 1 {
		notify(StageReranking, "reordering evidence by relevance")
		stageWG.Add(1)
		go func() {
			defer stageWG.Done()
			pool := candidates
			if len(pool) > a.cfg.RerankCandidates {
				pool = pool[:a.cfg.RerankCandidates]
			}
			orderedIDs, rerankErr := a.reasoner.Rerank(ctx, question, pool)
			if rerankErr != nil {
				rerankWarn = "reranking unavailable; fused order retained"
				logger.Warn("rerank failed", zap.Error(rerankErr))
				return
			}
			merged = applyOrder(merged, orderedIDs)
			reranked = true
		}()
	}

	if len(candidates) > 0 {
		notify(StageSynthesizing, "synthesizing research report")
		stageWG.Add(1)
		go func() {
			defer stageWG.Done()
			synthesized, synthErr := a.reasoner.Synthesize(ctx, question, candidates)
			if synthErr != nil {
				synthWarn = "synthesis unavailable; returning raw evidence"
				logger.Warn("synthesis failed", zap.Error(synthErr))
				report = rawEvidenceReport(candidates)
				synthesisMode = "raw"
				return
			}
			report = synthesized
		}()
	} else {
		report = &llm.ResearchReport{Summary: "No matching documents were found for this question."}
		synthesisMode = "empty"
	}

	stageWG.Wait()
	if rerankWarn != "" {
		warnings = append(warnings, rerankWarn)
	}
	if synthWarn != "" {
		warnings = append(warnings, synthWarn)
	}

	for i := range merged {
		merged[i].Rank = i + 1
	}

	notify(StageComplete, "research complete")

	elapsed := time.Since(start)
	metrics.QueryDuration.WithLabelValues("research").Observe(elapsed.Seconds())
	metrics.QueryTotal.WithLabelValues("research", "success").Inc()

	return &Response{
		Classification: classification,
		SubQueries:     subQueries,
		Results:        merged,
		Report:         report,
		Meta: Meta{
			SubQueryCount:         len(subQueries),
			ContextSize:           len(merged),
			Reranked:              reranked,
			SynthesisMode:         synthesisMode,
			TotalTimeMS:           float64(elapsed.Milliseconds()),
			Warnings:              warnings,
			DecompositionFallback: decompFallback,
		},
	}, nil
}

type partition struct {
	results  []triage.RankedResult
	warnings []string
}

// fanOutSearches runs the baseline sweep and every sub-query search
// concurrently under the stage timeout. Partitions that miss the
// deadline are dropped with a warning; whatever completed is merged.
func (a *Agent) fanOutSearches(ctx context.Context, classification llm.Classification, subQueries []llm.SubQuery, vectors [][]float32) ([]triage.RankedResult, []string) {
	stageCtx, cancel := context.WithTimeout(ctx, a.cfg.StageTimeout)
	defer cancel()

	parts := make([]partition, len(subQueries)+1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results, baseWarnings := a.baseline.SearchPools(stageCtx, classification, vectors[0])
		parts[0] = partition{results: results, warnings: baseWarnings}
	}()

	for i, sq := range subQueries {
		wg.Add(1)
		go func(slot int, sq llm.SubQuery, vector []float32) {
			defer wg.Done()
			pool := sq.Pool
			if !pool.Valid() {
				pool = classification.AnswerType
			}
			results, degraded, err := a.searcher.Search(stageCtx, pool, sq.Query, vector, a.cfg.ResultsPerQuery)
			if err != nil {
				parts[slot] = partition{warnings: []string{fmt.Sprintf("sub-query %q skipped: pool %s unavailable", sq.Aspect, pool)}}
				return
			}
			part := partition{results: make([]triage.RankedResult, 0, len(results))}
			if degraded {
				part.warnings = []string{fmt.Sprintf("sub-query %q degraded to semantic-only", sq.Aspect)}
			}
			for _, r := range results {
				part.results = append(part.results, triage.RankedResult{FusedResult: r})
			}
			parts[slot] = part
		}(i+1, sq, vectors[i+1])
	}

	wg.Wait()

	warnings := []string{}
	best := make(map[string]triage.RankedResult)
	for _, part := range parts {
		warnings = append(warnings, part.warnings...)
		for _, r := range part.results {
			if prev, ok := best[r.ID]; !ok || r.FusedScore > prev.FusedScore {
				best[r.ID] = r
			}
		}
	}

	merged := make([]triage.RankedResult, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].FusedScore != merged[j].FusedScore {
			return merged[i].FusedScore > merged[j].FusedScore
		}
		return merged[i].ID < merged[j].ID
	})
	return merged, warnings
}

func toCandidates(results []triage.RankedResult) []llm.Candidate {
	candidates := make([]llm.Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, llm.Candidate{
			ID:             r.ID,
			SourceType:     r.Pool,
			Title:          r.Title,
			ContentPreview: r.ContentPreview,
			Score:          r.FusedScore,
		})
	}
	return candidates
}

// applyOrder reorders results to match orderedIDs, appending anything
// the reranker omitted in its existing order.
func applyOrder(results []triage.RankedResult, orderedIDs []string) []triage.RankedResult {
	byID := make(map[string]triage.RankedResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	reordered := make([]triage.RankedResult, 0, len(results))
	taken := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if r, ok := byID[id]; ok && !taken[id] {
			reordered = append(reordered, r)
			taken[id] = true
		}
	}
	for _, r := range results {
		if !taken[r.ID] {
			reordered = append(reordered, r)
		}
	}
	return reordered
}

func rawEvidenceReport(candidates []llm.Candidate) *llm.ResearchReport {
	evidence := make([]llm.EvidenceItem, 0, len(candidates))
	for _, c := range candidates {
		evidence = append(evidence, llm.EvidenceItem{
			SourceID:       c.ID,
			SourceType:     string(c.SourceType),
			Title:          c.Title,
			ContentPreview: c.ContentPreview,
		})
	}
	return &llm.ResearchReport{
		Summary:  "Synthesis was unavailable. The evidence below is the raw retrieval context ordered by fused relevance.",
		Evidence: evidence,
	}
}
