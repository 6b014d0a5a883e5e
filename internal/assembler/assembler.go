// Package assembler builds token-budgeted tutoring prompts from a question,
// retrieved course material and recent conversation.
package assembler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bull/course-tutor/internal/config"
	"github.com/bull/course-tutor/internal/llm"
	"github.com/bull/course-tutor/internal/storage"
	"github.com/bull/course-tutor/internal/tokenizer"
)

// ErrBudgetExceeded means the instructions and question alone do not fit.
var ErrBudgetExceeded = errors.New("prompt token budget exceeded")

// NoContextInstruction is appended to the system instructions when no course
// material was included.
const NoContextInstruction = "NO COURSE MATERIAL FOUND: none of the student's course materials matched this question. " +
	"Answer from general mathematical reasoning and state clearly at the start of your answer " +
	"that it is not based on the student's course materials."

const (
	materialsHeader = "RELEVANT COURSE MATERIALS:"
	questionHeader  = "STUDENT QUESTION:"
)

// Input is everything a prompt is built from.
type Input struct {
	Question     string
	Results      []storage.Result
	History      []llm.Message // Oldest first
	Instructions string
	TokenBudget  int // 0 uses the configured budget
}

// Report describes what went into a prompt.
type Report struct {
	Tokens          int
	HistoryTokens   int
	MaterialTokens  int
	IncludedResults int
	DroppedResults  int
	IncludedTurns   int
	DroppedTurns    int
	NoContext       bool
	Sources         []string // Source of each included result, in prompt order
}

// Assembler builds prompts within a token budget.
type Assembler struct {
	cfg config.PromptConfig
}

// New creates an assembler.
func New(cfg config.PromptConfig) *Assembler {
	return &Assembler{cfg: cfg}
}

// Build assembles the prompt. Instructions and the question are reserved
// first, then the most recent history turns within the history sub-budget,
// then whole retrieved chunks in descending score order until the next one
// would not fit. Chunks are never truncated.
func (a *Assembler) Build(in Input) (llm.Prompt, Report, error) {
	budget := in.TokenBudget
	if budget <= 0 {
		budget = a.cfg.TokenBudget
	}

	questionBlock := questionHeader + "\n" + in.Question
	base := tokenizer.Count(in.Instructions) + tokenizer.Count(questionBlock)
	if base > budget {
		return llm.Prompt{}, Report{}, fmt.Errorf("%w: instructions and question need %d tokens, budget is %d",
			ErrBudgetExceeded, base, budget)
	}

	var report Report
	history, historyTokens := a.selectHistory(in.History, min(a.cfg.HistoryBudget, budget-base))
	report.IncludedTurns = len(history)
	report.DroppedTurns = len(in.History) - len(history)

	results := make([]storage.Result, len(in.Results))
	copy(results, in.Results)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	remaining := budget - base - historyTokens
	var materials strings.Builder
	materialTokens := 0
	for i, r := range results {
		block := fmt.Sprintf("--- Section %d (%s) ---\n%s\n\n", i+1, r.Source(), r.Text)
		cost := tokenizer.Count(block)
		if i == 0 {
			cost += tokenizer.Count(materialsHeader)
		}
		if materialTokens+cost > remaining {
			break
		}
		if i == 0 {
			materials.WriteString(materialsHeader + "\n\n")
		}
		materials.WriteString(block)
		materialTokens += cost
		report.IncludedResults++
		report.Sources = append(report.Sources, r.Source())
	}
	report.DroppedResults = len(results) - report.IncludedResults

	system := in.Instructions
	if report.IncludedResults == 0 {
		report.NoContext = true
		fallback := tokenizer.Count(NoContextInstruction)
		if base+fallback > budget {
			return llm.Prompt{}, Report{}, fmt.Errorf("%w: no-context instruction does not fit in %d tokens",
				ErrBudgetExceeded, budget)
		}
		// Oldest turns give way to the fallback instruction.
		for base+historyTokens+fallback > budget && len(history) > 0 {
			historyTokens -= tokenizer.Count(history[0].Content)
			history = history[1:]
			report.IncludedTurns--
			report.DroppedTurns++
		}
		if system != "" {
			system += "\n\n"
		}
		system += NoContextInstruction
		base += fallback
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: materials.String() + questionBlock,
	})

	report.HistoryTokens = historyTokens
	report.MaterialTokens = materialTokens
	report.Tokens = base + historyTokens + materialTokens
	return llm.Prompt{System: system, Messages: messages}, report, nil
}

// selectHistory walks backward from the newest turn, keeping turns while they
// fit in limit tokens and within the configured turn count.
func (a *Assembler) selectHistory(history []llm.Message, limit int) ([]llm.Message, int) {
	start := len(history)
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		if a.cfg.HistoryTurns > 0 && len(history)-i > a.cfg.HistoryTurns {
			break
		}
		cost := tokenizer.Count(history[i].Content)
		if used+cost > limit {
			break
		}
		used += cost
		start = i
	}
	return history[start:], used
}
