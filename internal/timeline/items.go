package timeline

import (
	"strings"
	"time"

	"github.com/omochice/supportline/pkg/protocol"
)

// Item is one entry of the timeline. Implementations are *ClusterItem,
// *UserMessageItem and *SupportEventItem; values reachable from a State are never mutated.
type Item interface {
	ItemID() string
	item()
}

// SubItem is a child of a ClusterItem.
type SubItem interface {
	subItem()
}

// ClusterItem aggregates everything one assistant turn produced.
type ClusterItem struct {
	ID     string
	TurnID string
	// Children holds ReasoningSubItem and ContentSubItem values in arrival order.
	Children []SubItem
	// Tools holds ToolCallItem and unmatched ToolResultItem values in arrival order.
	Tools  []SubItem
	Final  *FinalItem
	Closed bool
	// Synthesized is set when the final arrived without any open cluster for its turn.
	Synthesized bool
}

func (c *ClusterItem) ItemID() string { return c.ID }
func (*ClusterItem) item()            {}

// Text concatenates the content chunks.
func (c *ClusterItem) Text() string {
	var b strings.Builder
	for _, child := range c.Children {
		if s, ok := child.(ContentSubItem); ok {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Reasoning concatenates the reasoning chunks.
func (c *ClusterItem) Reasoning() string {
	var b strings.Builder
	for _, child := range c.Children {
		if s, ok := child.(ReasoningSubItem); ok {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

func (c *ClusterItem) hasSeq(seq int64) bool {
	for _, child := range c.Children {
		switch s := child.(type) {
		case ReasoningSubItem:
			if s.HasSeq && s.Seq == seq {
				return true
			}
		case ContentSubItem:
			if s.HasSeq && s.Seq == seq {
				return true
			}
		}
	}
	return false
}

type ReasoningSubItem struct {
	Text   string
	Seq    int64
	HasSeq bool
}

type ContentSubItem struct {
	Text   string
	Seq    int64
	HasSeq bool
}

type ToolCallItem struct {
	CallID    string
	Name      string
	Arguments any
	// Result is filled in when the matching tool.result arrives.
	Result *ToolResultItem
}

type ToolResultItem struct {
	CallID  string
	Result  any
	IsError bool
}

type FinalItem struct {
	Content string
}

func (ReasoningSubItem) subItem() {}
func (ContentSubItem) subItem()   {}
func (ToolCallItem) subItem()     {}
func (ToolResultItem) subItem()   {}
func (FinalItem) subItem()        {}

// UserMessageItem is a message the local user sent, inserted optimistically.
type UserMessageItem struct {
	ID          string
	Content     string
	SentAt      time.Time
	IsWithdrawn bool
	IsEdited    bool
}

func (u *UserMessageItem) ItemID() string { return u.ID }
func (*UserMessageItem) item()            {}

// SupportEventItem records a support-side event: an operator message, a
// handoff marker or a connection notice.
type SupportEventItem struct {
	ID       string
	Type     protocol.Type
	Operator string
	Content  string
	Reason   string
	At       time.Time

	// Set for connected events.
	ConnectionID    string
	ProtocolVersion string

	// Only human_message items can be withdrawn or edited.
	IsWithdrawn bool
	IsEdited    bool
}

func (e *SupportEventItem) ItemID() string { return e.ID }
func (*SupportEventItem) item()            {}
