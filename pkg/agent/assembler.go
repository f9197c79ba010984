package agent

import (
	"fmt"
	"strings"

	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/utils"
)

// Assembler builds the message list for a generation round. The layout
// is fixed: system instruction, acknowledgement, prior history, then
// the final user turn combining retrieved context with the question.
type Assembler struct {
	counter       *utils.TokenCounter
	system        string
	historyBudget int
}

// NewAssembler creates an assembler. historyBudget caps the tokens
// spent on prior history; the system turn and the final user turn are
// never truncated.
func NewAssembler(counter *utils.TokenCounter, system string, historyBudget int) (*Assembler, error) {
	if counter == nil {
		return nil, fmt.Errorf("token counter is required")
	}
	if system == "" {
		return nil, fmt.Errorf("system instruction is required")
	}
	if historyBudget <= 0 {
		historyBudget = 8000
	}
	return &Assembler{
		counter:       counter,
		system:        system,
		historyBudget: historyBudget,
	}, nil
}

// Build assembles the conversation for the model. History is included
// verbatim; when it exceeds the budget, the oldest turns are dropped
// first. The newest turn is always kept, over budget or not, because
// dropping it would detach the question from its immediate context.
func (a *Assembler) Build(history []model.Message, contextBlock, question string) []model.Message {
	messages := []model.Message{
		{Role: model.RoleSystem, Content: a.system},
		{Role: model.RoleAssistant, Content: acknowledgement},
	}

	messages = append(messages, a.truncate(history)...)
	messages = append(messages, model.Message{
		Role:    model.RoleUser,
		Content: FormatUserTurn(contextBlock, question),
	})

	return messages
}

// truncate drops whole turns from the front until the rest fits.
func (a *Assembler) truncate(history []model.Message) []model.Message {
	if len(history) == 0 {
		return nil
	}

	costs := make([]int, len(history))
	total := 0
	for i, msg := range history {
		costs[i] = a.counter.CountPair(msg.Role, msg.Content)
		total += costs[i]
	}

	start := 0
	for start < len(history)-1 && total > a.historyBudget {
		total -= costs[start]
		start++
	}

	return history[start:]
}

// FormatUserTurn renders the final user turn. The question is included
// literally; the context block, when present, precedes it under its own
// label so the model can tell retrieved material from the user's words.
func FormatUserTurn(contextBlock, question string) string {
	if strings.TrimSpace(contextBlock) == "" {
		return question
	}

	var sb strings.Builder
	sb.WriteString(contextBlock)
	sb.WriteString("\n\nUser question: ")
	sb.WriteString(question)
	return sb.String()
}
