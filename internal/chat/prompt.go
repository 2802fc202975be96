package chat

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const answerSystemPrompt = `You are a retrieval-augmented assistant for a document knowledge base.
Answer strictly from the context passages provided in the user message.
If the context does not contain the answer, say so plainly instead of guessing.
Use the conversation history to keep continuity across turns.
When a question has several parts, prefer a structured answer that addresses each part.`

const rephraseSystemPrompt = `Given a conversation and a follow-up question, rewrite the follow-up
into a standalone question that can be understood without the conversation.
Keep the original language of the question. Reply with the standalone question only.`

// renderRephrasePrompt 把对话历史压成文本，供改写模型消费
func renderRephrasePrompt(history []*schema.Message, question string) string {
	var sb strings.Builder
	sb.WriteString("Conversation:\n")
	for _, m := range history {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nFollow-up question: ")
	sb.WriteString(question)
	return sb.String()
}

// renderContext 把召回片段拼成带编号的上下文块
func renderContext(contents []string) string {
	var sb strings.Builder
	for i, c := range contents {
		sb.WriteString(fmt.Sprintf("\n[passage %d]\n", i+1))
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderAnswerPrompt(question, context string) string {
	return fmt.Sprintf("Question: %s\n\nContext:%s", question, context)
}
