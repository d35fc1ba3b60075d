package llm

import (
	"fmt"
	"strings"

	"github.com/Harshitk-cp/twinledger/internal/domain"
)

const (
	answerTemperature = 0.2
	answerMaxTokens   = 1024
)

const answerSystemPrompt = `You answer questions on behalf of a business owner, using only the numbered evidence you are given.

Rules:
- Cite the evidence that supports each sentence with its number in brackets, e.g. [1] or [2][3].
- Do not state anything the evidence does not support.
- If the evidence does not answer the question, say that you are not sure and that the owner will follow up.
- Keep the answer short and plain. No markdown.`

const answerPrompt = `Evidence:
%s
Question: %s

Answer:`

// BuildAnswerPrompt lays out evidence as a numbered list so the model can cite
// it as [n]. Numbering starts at 1 and follows the order given.
func BuildAnswerPrompt(query string, evidence []domain.Evidence) string {
	var b strings.Builder
	if len(evidence) == 0 {
		b.WriteString("(none)\n")
	}
	for i, e := range evidence {
		text := strings.Join(strings.Fields(e.Text), " ")
		if e.OwnerVerified {
			fmt.Fprintf(&b, "[%d] (confirmed by the owner) %s\n", i+1, text)
			continue
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, text)
	}
	return fmt.Sprintf(answerPrompt, b.String(), strings.TrimSpace(query))
}
