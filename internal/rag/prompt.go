package rag

import (
	"strconv"
	"strings"
)

// BuildPrompt renders the question followed by numbered context blocks:
//
//	Question: <query>
//
//	Context 1: <first>
//
//	Context 2: <second>
//
//	Answer:
//
// Blocks are separated by a blank line. With no contexts the result is
// "Question: <query>\n\nAnswer:".
func BuildPrompt(query string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	for i, c := range contexts {
		b.WriteString("Context ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(": ")
		b.WriteString(c)
		b.WriteString("\n\n")
	}
	b.WriteString("Answer:")
	return b.String()
}
