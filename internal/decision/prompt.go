package decision

import (
	"fmt"
	"strings"

	"vibe-trader/internal/domain"
)

func buildPromptMessages(history []domain.Turn, locked, effectiveText string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildPolicyPrompt()},
	}
	if locked != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: buildLockPrompt(locked)})
	}
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: t.Role, Content: text})
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: effectiveText})
}

func buildPolicyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are a crypto degen AI agent with a wallet full of SOL. Users will pitch you tokens to buy.",
		"",
		"Task:",
		"Evaluate the pitch and decide whether to buy or pass. You are skeptical but open-minded.",
		"",
		"Evaluation:",
		"- Does the token have a clear use case or narrative?",
		"- Is there any mention of the team, community, or traction?",
		"- Red flags: too good to be true promises, no specifics, pure hype, scam flags, heavy sniper or insider holdings.",
		"- Green flags: specific utility, growing community, healthy liquidity, good tokenomics.",
		"",
		"Behavior Rules:",
		behaviorRules(),
		"",
		"Output Contract:",
		outputContract(),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Be conversational and fun. Ask follow-up questions and show your reasoning.",
		"2) Use the token data and portfolio context attached to the user's message when present.",
		"3) If the user has not provided a token address, ask for it before deciding to buy.",
		"4) You may keep debating across several messages; only decide when you are convinced either way.",
	}, "\n")
}

func outputContract() string {
	return "When you reach a decision, end your response with it on its own line in this exact format: " +
		"DECISION: BUY <token_address> or DECISION: PASS. " +
		"The token address is a Solana address such as So11111111111111111111111111111111111111112. " +
		"Do not write a DECISION line until you have decided."
}

func buildLockPrompt(locked string) string {
	return fmt.Sprintf(
		"Locked Token:\nThis conversation is about token %s and only that token. "+
			"If the user later mentions a different address, do not switch; any BUY decision must use %s.",
		locked, locked,
	)
}

// enrich appends context blocks to the human text. The result is only sent to
// the model; history keeps the original text.
func enrich(text string, blocks ...string) string {
	var sb strings.Builder
	sb.WriteString(text)
	for _, b := range blocks {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(b)
	}
	return sb.String()
}
