package retrieval

import (
	"fmt"
	"strings"
)

const answerSystemPrompt = `You are a study assistant answering questions about a student's own course materials.
Work only from the sources you are given and never invent facts, page numbers or quotes.`

const noMaterialPrompt = `No relevant material was found in the knowledge base for this question.
Tell the user that their uploaded materials do not cover it and suggest selecting a document or rephrasing.
Do not answer from general knowledge and do not make anything up.

Question: %s`

const answerInstructions = `Instructions:
1. First work out what the user wants: a summary, a direct answer, or a clarification.
2. Base every statement on the sources above.
3. Whenever you state a fact taken from a source, cite it inline as [Source N, Page P].
4. If the sources only partly answer the question, say which part they do not cover.`

// SourceLabel is the header of the n-th source block (1-based).
func SourceLabel(n int, c RetrievedChunk) string {
	return fmt.Sprintf("[Source %d] %q - Page %d:", n, c.Title, c.Page)
}

// BuildPrompt returns the system and user prompts for a grounded answer.
// Sources are numbered in the order of chunks.
func BuildPrompt(question string, chunks []RetrievedChunk) (system, user string) {
	if len(chunks) == 0 {
		return answerSystemPrompt, fmt.Sprintf(noMaterialPrompt, question)
	}

	var sb strings.Builder
	sb.WriteString("Sources:\n\n")
	for i, c := range chunks {
		sb.WriteString(SourceLabel(i+1, c))
		sb.WriteByte(' ')
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString(answerInstructions)
	return answerSystemPrompt, sb.String()
}
