package context

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stupiduntilnot/hookbot/internal/kv"
)

// DefaultWindow is the number of history turns kept in a context window.
const DefaultWindow = 5

// ErrCorruptHistory is returned when a stored history value cannot be decoded.
var ErrCorruptHistory = errors.New("corrupt chat history")

// Manager loads, saves and assembles per-conversation context. It holds no
// conversation state of its own; everything lives in the store.
type Manager struct {
	store      kv.Store
	compressor Compressor
	assembler  Assembler
	locks      *keyedLock
}

// NewManager returns a Manager keeping at most window history turns in a
// built context. A non-positive window falls back to DefaultWindow.
func NewManager(store kv.Store, window int) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{
		store:      store,
		compressor: &SimpleCompressor{MaxMessages: window},
		assembler:  &StandardAssembler{},
		locks:      newKeyedLock(),
	}
}

// LoadHistory returns the stored history, oldest first. A conversation with
// no stored history yields an empty slice.
func (m *Manager) LoadHistory(ctx context.Context, chatID int64) ([]Message, error) {
	raw, ok, err := m.store.Get(ctx, HistoryKey(chatID))
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	if !ok || raw == "" {
		return []Message{}, nil
	}
	var history []Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("%w: chat_id=%d: %v", ErrCorruptHistory, chatID, err)
	}
	if history == nil {
		history = []Message{}
	}
	return history, nil
}

// SaveHistory replaces the stored history with turns.
func (m *Manager) SaveHistory(ctx context.Context, chatID int64, turns []Message) error {
	if turns == nil {
		turns = []Message{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal chat history: %w", err)
	}
	if err := m.store.Put(ctx, HistoryKey(chatID), string(data)); err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}
	return nil
}

// ClearHistory deletes the stored history.
func (m *Manager) ClearHistory(ctx context.Context, chatID int64) error {
	if err := m.store.Delete(ctx, HistoryKey(chatID)); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}

// Instruction returns the conversation instruction, if one is stored.
func (m *Manager) Instruction(ctx context.Context, chatID int64) (string, bool, error) {
	text, ok, err := m.store.Get(ctx, InstructionKey(chatID))
	if err != nil {
		return "", false, fmt.Errorf("load chat env: %w", err)
	}
	if !ok || text == "" {
		return "", false, nil
	}
	return text, true, nil
}

// SetInstruction stores the conversation instruction. Empty text clears it.
func (m *Manager) SetInstruction(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		return m.ClearInstruction(ctx, chatID)
	}
	if err := m.store.Put(ctx, InstructionKey(chatID), text); err != nil {
		return fmt.Errorf("save chat env: %w", err)
	}
	return nil
}

// ClearInstruction removes the conversation instruction.
func (m *Manager) ClearInstruction(ctx context.Context, chatID int64) error {
	if err := m.store.Delete(ctx, InstructionKey(chatID)); err != nil {
		return fmt.Errorf("clear chat env: %w", err)
	}
	return nil
}

// BuildContext returns the turns to send to the backend: the stored
// instruction as a leading system turn, then the most recent window of
// history with every system turn removed.
func (m *Manager) BuildContext(ctx context.Context, chatID int64, history []Message) ([]Message, error) {
	instruction, _, err := m.Instruction(ctx, chatID)
	if err != nil {
		return nil, err
	}
	trimmed := m.compressor.Compress(withoutSystem(history))
	return m.assembler.Assemble(instruction, trimmed, ""), nil
}

// Lock grants exclusive access to one conversation's history within this
// process. The returned func releases it and is safe to call more than once.
func (m *Manager) Lock(ctx context.Context, chatID int64) (func(), error) {
	unlock, err := m.locks.acquire(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("lock chat %d: %w", chatID, err)
	}
	return unlock, nil
}
