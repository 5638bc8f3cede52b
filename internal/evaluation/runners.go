package evaluation

import (
	"context"

	"github.com/support-copilot/backend/internal/research"
	"github.com/support-copilot/backend/internal/triage"
)

// AskRunner evaluates the quick query path.
type AskRunner struct {
	agent *triage.Agent
}

func NewAskRunner(agent *triage.Agent) *AskRunner {
	return &AskRunner{agent: agent}
}

func (r *AskRunner) Run(ctx context.Context, question string) (*Answer, error) {
	resp, err := r.agent.Ask(ctx, question)
	if err != nil {
		return nil, err
	}
	answer := &Answer{AnswerType: resp.Classification.AnswerType}
	for _, result := range resp.Results {
		answer.ResultIDs = append(answer.ResultIDs, result.ID)
	}
	return answer, nil
}

// ResearchRunner evaluates the deep query path without a progress
// stream.
type ResearchRunner struct {
	agent *research.Agent
}

func NewResearchRunner(agent *research.Agent) *ResearchRunner {
	return &ResearchRunner{agent: agent}
}

func (r *ResearchRunner) Run(ctx context.Context, question string) (*Answer, error) {
	resp, err := r.agent.Research(ctx, question, nil)
	if err != nil {
		return nil, err
	}
	answer := &Answer{AnswerType: resp.Classification.AnswerType}
	for _, result := range resp.Results {
		answer.ResultIDs = append(answer.ResultIDs, result.ID)
	}
	return answer, nil
}
