// Package context assembles the turn sequence sent to a text-generation
// backend from persisted per-conversation history and instruction text.
package context

// Compressor reduces a list of messages to fit within constraints.
type Compressor interface {
	Compress(messages []Message) []Message
}

// Assembler combines system prompt, history, and user message into a final message list.
type Assembler interface {
	Assemble(system string, history []Message, userMsg string) []Message
}
