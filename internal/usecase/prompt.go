package usecase

import (
	"fmt"
	"strings"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
)

type promptContext struct {
	systemPrompt  string
	schoolContext string
}

func buildPromptMessages(pc promptContext, message string, history []domain.StoredTurn) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildPolicyPrompt()},
		{Role: domain.RoleSystem, Content: buildSchoolContextPrompt(pc)},
	}
	for _, t := range history {
		messages = append(messages, turnToPromptMessages(t)...)
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: message})
}

func buildPolicyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are the school's assistant for parents, students and staff.",
		"",
		"Approved Sources:",
		"- School information provided in this request",
		"- Completed prior turns of this conversation",
		"",
		"Behavior Rules:",
		behaviorRules(),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Answer only the current message.",
		"2) Reply in the language the message was written in.",
		"3) Keep answers short and friendly; use plain text.",
		"4) Never invent dates, fees or grades that are not in the approved sources.",
		"5) Do not discuss other students or share personal data.",
		"6) If the information is unavailable, say so and suggest contacting the school office.",
	}, "\n")
}

func buildSchoolContextPrompt(pc promptContext) string {
	return fmt.Sprintf(
		"%s\n\nSchool Information:\n%s",
		strings.TrimSpace(pc.systemPrompt),
		normalizePromptInput(pc.schoolContext),
	)
}

func turnToPromptMessages(t domain.StoredTurn) []domain.ChatMessage {
	if t.Status != statusComplete {
		return nil
	}
	question := strings.TrimSpace(t.Text)
	answer := strings.TrimSpace(t.Answer)
	if question == "" || answer == "" {
		return nil
	}
	return []domain.ChatMessage{
		{Role: domain.RoleUser, Content: question},
		{Role: domain.RoleAssistant, Content: answer},
	}
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
