package context

import "strconv"

const (
	historyKeyPrefix     = "INDEX_CHAT_HISTORY:"
	instructionKeyPrefix = "INDEX_CHAT_ENV:"
)

// HistoryKey is the store key of a conversation's turn history.
func HistoryKey(chatID int64) string {
	return historyKeyPrefix + strconv.FormatInt(chatID, 10)
}

// InstructionKey is the store key of a conversation's instruction text.
func InstructionKey(chatID int64) string {
	return instructionKeyPrefix + strconv.FormatInt(chatID, 10)
}
