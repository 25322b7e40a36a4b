package context

// StandardAssembler combines system prompt, history, and user message
// into a single ordered message list. Empty system or user text is omitted.
type StandardAssembler struct{}

// Assemble builds the final message list: system + history + user.
func (a *StandardAssembler) Assemble(system string, history []Message, userMsg string) []Message {
	messages := make([]Message, 0, 1+len(history)+1)
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	messages = append(messages, history...)
	if userMsg != "" {
		messages = append(messages, Message{Role: RoleUser, Content: userMsg})
	}
	return messages
}
