// Package convo provides per-tab conversation state on top of the settings
// document. Each tab identifier maps to an independent turn history; the
// empty tab identifier addresses the legacy flat thread.
package convo

import (
	"context"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/settings"
	"github.com/roelfdiedericks/tabclaw/internal/types"
)

// State reads and mutates tab conversation histories. All writes go
// through the settings manager's single-writer queue.
type State struct {
	settings *settings.Manager
}

// NewState creates conversation state backed by the given settings manager
func NewState(m *settings.Manager) *State {
	return &State{settings: m}
}

// GetHistory returns the ordered turn history for a tab. An unknown tab
// yields an empty history, not an error.
func (s *State) GetHistory(ctx context.Context, tabID string) ([]types.Turn, error) {
	doc, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if tabID == "" {
		return doc.ChatHistory, nil
	}
	conv := doc.TabConversations[tabID]
	if conv == nil {
		return nil, nil
	}
	return conv.Turns, nil
}

// AppendTurns appends turns to a tab's history in order, creating the
// conversation on first use.
func (s *State) AppendTurns(ctx context.Context, tabID string, turns ...types.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	_, err := s.settings.Update(ctx, func(doc *settings.Settings) error {
		if tabID == "" {
			doc.ChatHistory = append(doc.ChatHistory, turns...)
			return nil
		}
		conv := doc.TabConversations[tabID]
		if conv == nil {
			conv = &types.TabConversation{}
			doc.TabConversations[tabID] = conv
		}
		conv.Turns = append(conv.Turns, turns...)
		return nil
	})
	if err != nil {
		return err
	}
	L_trace("convo: appended turns", "tab", tabID, "count", len(turns))
	return nil
}

// MarkToolsOffered records that the tool schema was sent for this thread.
// Display metadata only; schema attachment is re-derived from history.
func (s *State) MarkToolsOffered(ctx context.Context, tabID string) error {
	if tabID == "" {
		return nil
	}
	_, err := s.settings.Update(ctx, func(doc *settings.Settings) error {
		if conv := doc.TabConversations[tabID]; conv != nil {
			conv.ToolsOffered = true
		}
		return nil
	})
	return err
}

// Clear removes a tab's conversation entirely so the next append starts a
// fresh thread with the tool schema offered again. Returns the resulting
// settings document for the response envelope.
func (s *State) Clear(ctx context.Context, tabID string) (*settings.Settings, error) {
	doc, err := s.settings.Update(ctx, func(doc *settings.Settings) error {
		if tabID == "" {
			doc.ChatHistory = nil
			return nil
		}
		delete(doc.TabConversations, tabID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	L_info("convo: conversation cleared", "tab", tabID)
	return doc, nil
}

// HasToolTurn reports whether any turn in the history has role tool.
// The tool schema is attached to an outbound request exactly when this
// is false: re-derived from the history itself so it cannot drift.
func HasToolTurn(turns []types.Turn) bool {
	for _, t := range turns {
		if t.Role == types.RoleTool {
			return true
		}
	}
	return false
}
