package context

// SimpleCompressor keeps only the last MaxMessages messages.
type SimpleCompressor struct {
	MaxMessages int
}

// Compress truncates messages to the most recent MaxMessages entries.
// The result never aliases the input.
func (c *SimpleCompressor) Compress(messages []Message) []Message {
	if c.MaxMessages <= 0 || len(messages) <= c.MaxMessages {
		return append([]Message(nil), messages...)
	}
	return append([]Message(nil), messages[len(messages)-c.MaxMessages:]...)
}

// withoutSystem returns messages minus every system-role entry.
func withoutSystem(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
