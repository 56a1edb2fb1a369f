package timeline

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/omochice/supportline/pkg/protocol"
)

const kindReasoning = "reasoning"

// Reduce applies one inbound message. Unknown types and events that would
// violate an invariant (a chunk for a closed turn, a duplicate id) leave the
// timeline unchanged.
func Reduce(s State, msg protocol.Message) State {
	switch msg.Type {
	case protocol.TypeAssistantDelta:
		return reduceDelta(s, msg)
	case protocol.TypeAssistantFinal:
		return reduceFinal(s, msg)
	case protocol.TypeToolCall:
		return reduceToolCall(s, msg)
	case protocol.TypeToolResult:
		return reduceToolResult(s, msg)
	case protocol.TypeHumanMessage,
		protocol.TypeHumanMode,
		protocol.TypeHandoffStarted,
		protocol.TypeHandoffEnded,
		protocol.TypeConnected:
		return reduceSupportEvent(s, msg)
	case protocol.TypeMessageWithdrawn:
		return reduceWithdrawn(s, msg)
	case protocol.TypeMessageEdited:
		return reduceEdited(s, msg)
	case protocol.TypeMessagesDeleted:
		return reduceDeleted(s, msg)
	default:
		return s
	}
}

// turnFor returns the turn an assistant event belongs to. Without a turn_id
// the most recently opened turn is used, or a fresh synthetic one.
func (b *builder) turnFor(msg protocol.Message) string {
	if turn := msg.String("turn_id"); turn != "" {
		return turn
	}
	if b.s.current != "" {
		return b.s.current
	}
	return fmt.Sprintf("turn-%d", b.nextSynthetic())
}

// toolTurn is turnFor for tool events, which never open a turn of their own:
// without a turn_id or a current turn they are dropped.
func (b *builder) toolTurn(msg protocol.Message) (string, bool) {
	if turn := msg.String("turn_id"); turn != "" {
		return turn, true
	}
	return b.s.current, b.s.current != ""
}

// openCluster returns the open cluster for turn, creating it at the tail when
// the turn has none yet. ok is false once the turn is closed.
func (b *builder) openCluster(turn string) (c *ClusterItem, ok bool) {
	if _, closed := b.s.closed[turn]; closed {
		return nil, false
	}
	if id, open := b.s.open[turn]; open {
		c, ok := b.s.items[b.s.index[id]].(*ClusterItem)
		return c, ok
	}
	id := clusterID(turn)
	if _, taken := b.s.index[id]; taken {
		return nil, false
	}
	c = &ClusterItem{ID: id, TurnID: turn}
	b.append(c)
	b.openTurn(turn, id)
	return c, true
}

func reduceDelta(s State, msg protocol.Message) State {
	b := newBuilder(s)
	c, ok := b.openCluster(b.turnFor(msg))
	if !ok {
		return s
	}

	seq, hasSeq := msg.Int("seq")
	if hasSeq && c.hasSeq(seq) {
		return s
	}

	text := msg.String("text")
	var sub SubItem = ContentSubItem{Text: text, Seq: seq, HasSeq: hasSeq}
	if msg.String("kind") == kindReasoning {
		sub = ReasoningSubItem{Text: text, Seq: seq, HasSeq: hasSeq}
	}

	next := *c
	next.Children = append(slices.Clip(c.Children), sub)
	b.replace(&next)
	return b.state()
}

func reduceFinal(s State, msg protocol.Message) State {
	b := newBuilder(s)
	turn := msg.String("turn_id")
	if turn == "" {
		turn = s.current
	}
	content := msg.String("content")

	if turn != "" {
		if _, closed := s.closed[turn]; closed {
			// Replayed final for a finished turn.
			return s
		}
		if id, open := s.open[turn]; open {
			c := s.items[s.index[id]].(*ClusterItem)
			if content == "" {
				content = c.Text()
			}
			next := *c
			next.Final = &FinalItem{Content: content}
			next.Closed = true
			b.replace(&next)
			b.closeTurn(turn)
			return b.state()
		}
	} else {
		turn = fmt.Sprintf("turn-%d", b.nextSynthetic())
	}

	id := clusterID(turn)
	if _, taken := s.index[id]; taken {
		return s
	}
	b.append(&ClusterItem{
		ID:          id,
		TurnID:      turn,
		Final:       &FinalItem{Content: content},
		Closed:      true,
		Synthesized: true,
	})
	b.closeTurn(turn)
	return b.state()
}

func reduceToolCall(s State, msg protocol.Message) State {
	b := newBuilder(s)
	turn, ok := b.toolTurn(msg)
	if !ok {
		return s
	}
	c, ok := b.openCluster(turn)
	if !ok {
		return s
	}

	callID := msg.String("call_id")
	if callID != "" && slices.ContainsFunc(c.Tools, func(t SubItem) bool {
		call, ok := t.(ToolCallItem)
		return ok && call.CallID == callID
	}) {
		return s
	}

	next := *c
	next.Tools = append(slices.Clip(c.Tools), ToolCallItem{
		CallID:    callID,
		Name:      msg.String("name"),
		Arguments: msg.Raw("arguments"),
	})
	b.replace(&next)
	return b.state()
}

func reduceToolResult(s State, msg protocol.Message) State {
	b := newBuilder(s)
	turn, ok := b.toolTurn(msg)
	if !ok {
		return s
	}
	c, ok := b.openCluster(turn)
	if !ok {
		return s
	}

	result := ToolResultItem{
		CallID:  msg.String("call_id"),
		Result:  msg.Raw("result"),
		IsError: msg.Bool("is_error"),
	}
	if result.CallID != "" && slices.ContainsFunc(c.Tools, func(t SubItem) bool {
		switch v := t.(type) {
		case ToolCallItem:
			return v.CallID == result.CallID && v.Result != nil
		case ToolResultItem:
			return v.CallID == result.CallID
		}
		return false
	}) {
		return s
	}

	next := *c
	next.Tools = slices.Clone(c.Tools)
	if i := slices.IndexFunc(next.Tools, func(t SubItem) bool {
		call, ok := t.(ToolCallItem)
		return ok && result.CallID != "" && call.CallID == result.CallID && call.Result == nil
	}); i >= 0 {
		call := next.Tools[i].(ToolCallItem)
		call.Result = &result
		next.Tools[i] = call
	} else {
		next.Tools = append(next.Tools, result)
	}
	b.replace(&next)
	return b.state()
}

func reduceSupportEvent(s State, msg protocol.Message) State {
	b := newBuilder(s)
	id := msg.String("event_id")
	if msg.Type == protocol.TypeHumanMessage {
		if mid := msg.String("message_id"); mid != "" {
			id = mid
		}
	}
	if id == "" {
		id = fmt.Sprintf("%s-%d", msg.Type, b.nextSynthetic())
	}
	if _, dup := s.index[id]; dup {
		return s
	}

	at, _ := msg.Time("timestamp")
	b.append(&SupportEventItem{
		ID:              id,
		Type:            msg.Type,
		Operator:        msg.String("operator"),
		Content:         msg.String("content"),
		Reason:          msg.String("reason"),
		At:              at,
		ConnectionID:    msg.String("connection_id"),
		ProtocolVersion: protocolVersion(msg),
	})
	return b.state()
}

func protocolVersion(msg protocol.Message) string {
	if v := msg.String("protocol_version"); v != "" {
		return v
	}
	if n, ok := msg.Int("protocol_version"); ok {
		return strconv.FormatInt(n, 10)
	}
	return ""
}

func reduceWithdrawn(s State, msg protocol.Message) State {
	it, ok := s.Item(msg.String("message_id"))
	if !ok {
		return s
	}

	b := newBuilder(s)
	switch v := it.(type) {
	case *UserMessageItem:
		if v.IsWithdrawn {
			return s
		}
		next := *v
		next.Content = ""
		next.IsWithdrawn = true
		b.replace(&next)
	case *SupportEventItem:
		if v.Type != protocol.TypeHumanMessage || v.IsWithdrawn {
			return s
		}
		next := *v
		next.Content = ""
		next.IsWithdrawn = true
		b.replace(&next)
	default:
		return s
	}
	return b.state()
}

func reduceEdited(s State, msg protocol.Message) State {
	it, ok := s.Item(msg.String("message_id"))
	if !ok {
		return s
	}
	content := msg.String("content")

	b := newBuilder(s)
	switch v := it.(type) {
	case *UserMessageItem:
		if v.IsWithdrawn {
			return s
		}
		next := *v
		next.Content = content
		next.IsEdited = true
		b.replace(&next)
	case *SupportEventItem:
		if v.Type != protocol.TypeHumanMessage || v.IsWithdrawn {
			return s
		}
		next := *v
		next.Content = content
		next.IsEdited = true
		b.replace(&next)
	default:
		return s
	}
	return b.state()
}

func reduceDeleted(s State, msg protocol.Message) State {
	ids := msg.Strings("message_ids")
	if id := msg.String("message_id"); id != "" {
		ids = append(ids, id)
	}

	drop := make(map[string]struct{}, len(ids))
	var turns []string
	for _, id := range ids {
		it, ok := s.Item(id)
		if !ok {
			continue
		}
		drop[id] = struct{}{}
		if c, ok := it.(*ClusterItem); ok {
			turns = append(turns, c.TurnID)
		}
	}
	if len(drop) == 0 {
		return s
	}

	b := newBuilder(s)
	b.remove(drop)
	// A deleted turn stays closed so late chunks cannot bring it back.
	for _, turn := range turns {
		b.closeTurn(turn)
	}
	return b.state()
}
