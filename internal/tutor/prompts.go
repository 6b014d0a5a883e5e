package tutor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bull/course-tutor/internal/symbolic"
)

const tutorInstructions = `You are an expert math tutor. Your role is to help students learn and understand mathematical concepts deeply.

TUTORING PRINCIPLES:
1. Be patient and encouraging
2. Explain concepts step-by-step
3. Use the retrieved course materials when relevant and say which section you rely on
4. Provide hints before giving direct answers
5. Ask guiding questions to promote critical thinking
6. Use clear mathematical notation and explanations
7. Relate new concepts to previously learned material
8. Verify computations when needed

When solving problems:
- Break down complex problems into manageable steps
- Explain the reasoning behind each step
- Highlight common pitfalls and misconceptions
- Encourage the student to try solving parts themselves

When explaining concepts:
- Start with intuition before formal definitions
- Use examples and analogies
- Connect to real-world applications when possible`

const answerGuidance = "Please provide a clear, pedagogical response that helps the student understand. " +
	"If this is a computational problem, explain your approach."

const verifiedHeader = "VERIFIED COMPUTATION (exact symbolic result, use it instead of recomputing):"

const quizInstructions = "You are an expert math tutor creating practice problems."

const quizTemplate = `Generate %d practice problems on the topic: %s

Create problems that:
1. Start easier and gradually increase in difficulty
2. Cover different aspects of the topic
3. Are clear and well-formatted
4. Include a mix of conceptual and computational questions

Format each question clearly with numbering.`

// NoMaterialNotice tells the student an answer is not grounded in their materials.
const NoMaterialNotice = "No relevant course materials were found for this question; the answer is based on general knowledge."

// RetrievalDisabledNotice is set when the caller skipped retrieval.
const RetrievalDisabledNotice = "Course material retrieval was disabled for this question."

// operationKeywords maps question words to a symbolic operation. Earlier
// entries win when a question names several.
var operationKeywords = []struct {
	op    symbolic.Operation
	words []string
}{
	{symbolic.OpSimplify, []string{"simplify", "simplification"}},
	{symbolic.OpSolve, []string{"solve", "solution", "solutions", "roots"}},
	{symbolic.OpDerivative, []string{"derivative", "differentiate", "diff"}},
	{symbolic.OpIntegral, []string{"integral", "integrate", "antiderivative"}},
	{symbolic.OpExpand, []string{"expand", "expansion"}},
	{symbolic.OpFactor, []string{"factor", "factorize", "factorise", "factorization"}},
}

var (
	wordPattern     = regexp.MustCompile(`[\p{L}]+`)
	backtickPattern = regexp.MustCompile("`([^`]+)`")
	dollarPattern   = regexp.MustCompile(`\$\$?([^$]+?)\$\$?`)
)

// detectComputation looks for an operation keyword and an expression written
// in backticks or between dollar signs. Questions without both are not
// verified.
func detectComputation(question string) (symbolic.Request, bool) {
	words := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(question), -1) {
		words[w] = true
	}

	var (
		op    symbolic.Operation
		found bool
	)
	for _, k := range operationKeywords {
		for _, w := range k.words {
			if words[w] {
				op, found = k.op, true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return symbolic.Request{}, false
	}

	expr := ""
	if m := backtickPattern.FindStringSubmatch(question); m != nil {
		expr = m[1]
	} else if m := dollarPattern.FindStringSubmatch(question); m != nil {
		expr = m[1]
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return symbolic.Request{}, false
	}
	return symbolic.Request{Operation: op, Expression: expr}, true
}

func quizPrompt(topic string, count int) string {
	return fmt.Sprintf(quizTemplate, count, topic)
}
