package main

import (
	"fmt"
	"strings"

	"github.com/omochice/supportline/internal/connection"
	"github.com/omochice/supportline/internal/status"
	"github.com/omochice/supportline/internal/timeline"
	"github.com/omochice/supportline/pkg/protocol"
)

// renderItem returns the line for it, or "" while it is still streaming.
func renderItem(it timeline.Item) string {
	switch v := it.(type) {
	case *timeline.UserMessageItem:
		return "you: " + body(v.Content, v.IsWithdrawn, v.IsEdited)
	case *timeline.ClusterItem:
		if !v.Closed {
			return ""
		}
		text := v.Text()
		if v.Final != nil && v.Final.Content != "" {
			text = v.Final.Content
		}
		var tools []string
		for _, t := range v.Tools {
			if call, ok := t.(timeline.ToolCallItem); ok {
				tools = append(tools, call.Name)
			}
		}
		if len(tools) > 0 {
			return fmt.Sprintf("assistant [%s]: %s", strings.Join(tools, ", "), text)
		}
		return "assistant: " + text
	case *timeline.SupportEventItem:
		switch v.Type {
		case protocol.TypeHumanMessage:
			return operator(v.Operator) + ": " + body(v.Content, v.IsWithdrawn, v.IsEdited)
		case protocol.TypeHandoffStarted:
			if v.Reason != "" {
				return "  * handing over to a person (" + v.Reason + ")"
			}
			return "  * handing over to a person"
		case protocol.TypeHumanMode:
			return "  * " + operator(v.Operator) + " joined"
		case protocol.TypeHandoffEnded:
			return "  * back to the assistant"
		}
	}
	return ""
}

func body(content string, withdrawn, edited bool) string {
	switch {
	case withdrawn:
		return "(withdrawn)"
	case edited:
		return content + " (edited)"
	default:
		return content
	}
}

func operator(name string) string {
	if name == "" {
		return "operator"
	}
	return name
}

// renderStatus formats the status line. Unread counts are left out so that
// every reply does not repeat the line.
func renderStatus(st status.Status) string {
	var b strings.Builder
	b.WriteString("-- ")
	b.WriteString(st.ConnectionState.String())
	if st.ConnectionState == connection.StateReconnecting && st.LastError != nil {
		fmt.Fprintf(&b, " (%v)", st.LastError)
	}
	fmt.Fprintf(&b, " | %s", st.Handoff)
	if st.Operator != "" {
		fmt.Fprintf(&b, " with %s", st.Operator)
	}
	if st.AgentOnline {
		b.WriteString(" | agent online")
	} else {
		b.WriteString(" | agent offline")
	}
	if st.AgentTyping {
		b.WriteString(" | typing...")
	}
	return b.String()
}
