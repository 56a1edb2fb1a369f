// Package timeline projects the realtime event stream into an ordered list of
// conversation items. The reducer is pure: every call returns a new State and
// never mutates the one it was given.
package timeline

import (
	"maps"
	"slices"

	"github.com/omochice/supportline/pkg/protocol"
)

// State is an immutable timeline. The zero value is an empty timeline.
type State struct {
	items []Item
	// index maps item id to position in items.
	index map[string]int
	// open maps a turn id to the id of its open cluster.
	open map[string]string
	// closed holds turns whose cluster has received its final.
	closed map[string]struct{}
	// current is the turn that last opened a cluster, used when an event omits turn_id.
	current string
	// synthetic counts ids generated for events that carry none.
	synthetic int
}

// Len returns the number of items, including ones hidden from rendering.
func (s State) Len() int {
	return len(s.items)
}

// Items returns all items in order.
func (s State) Items() []Item {
	return slices.Clone(s.items)
}

// Visible returns the items to render; connected notices stay in State as an audit trail but are skipped here.
func (s State) Visible() []Item {
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		if ev, ok := it.(*SupportEventItem); ok && ev.Type == protocol.TypeConnected {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Item looks up an item by id.
func (s State) Item(id string) (Item, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.items[i], true
}

// Cluster returns the cluster for turnID, open or closed.
func (s State) Cluster(turnID string) (*ClusterItem, bool) {
	it, ok := s.Item(clusterID(turnID))
	if !ok {
		return nil, false
	}
	c, ok := it.(*ClusterItem)
	return c, ok
}

// IsOpen reports whether turnID has a cluster that still accepts chunks.
func (s State) IsOpen(turnID string) bool {
	_, ok := s.open[turnID]
	return ok
}

func clusterID(turnID string) string {
	return "cluster:" + turnID
}

// builder accumulates copy-on-write changes to a State.
type builder struct {
	s State

	itemsCopied  bool
	indexCopied  bool
	openCopied   bool
	closedCopied bool
}

func newBuilder(s State) *builder {
	return &builder{s: s}
}

func (b *builder) state() State {
	return b.s
}

func (b *builder) copyItems() {
	if !b.itemsCopied {
		b.s.items = slices.Clone(b.s.items)
		b.itemsCopied = true
	}
}

func (b *builder) copyIndex() {
	if !b.indexCopied {
		b.s.index = maps.Clone(b.s.index)
		if b.s.index == nil {
			b.s.index = make(map[string]int)
		}
		b.indexCopied = true
	}
}

func (b *builder) append(it Item) {
	b.copyItems()
	b.copyIndex()
	b.s.index[it.ItemID()] = len(b.s.items)
	b.s.items = append(b.s.items, it)
}

// replace swaps the item with the same id in place.
func (b *builder) replace(it Item) {
	i, ok := b.s.index[it.ItemID()]
	if !ok {
		return
	}
	b.copyItems()
	b.s.items[i] = it
}

func (b *builder) remove(ids map[string]struct{}) {
	b.copyItems()
	b.s.items = slices.DeleteFunc(b.s.items, func(it Item) bool {
		_, drop := ids[it.ItemID()]
		return drop
	})
	index := make(map[string]int, len(b.s.items))
	for i, it := range b.s.items {
		index[it.ItemID()] = i
	}
	b.s.index = index
	b.indexCopied = true
}

func (b *builder) openTurn(turnID, id string) {
	if !b.openCopied {
		b.s.open = maps.Clone(b.s.open)
		if b.s.open == nil {
			b.s.open = make(map[string]string)
		}
		b.openCopied = true
	}
	b.s.open[turnID] = id
	b.s.current = turnID
}

func (b *builder) closeTurn(turnID string) {
	if _, ok := b.s.open[turnID]; ok {
		if !b.openCopied {
			b.s.open = maps.Clone(b.s.open)
			b.openCopied = true
		}
		delete(b.s.open, turnID)
	}
	if !b.closedCopied {
		b.s.closed = maps.Clone(b.s.closed)
		if b.s.closed == nil {
			b.s.closed = make(map[string]struct{})
		}
		b.closedCopied = true
	}
	b.s.closed[turnID] = struct{}{}
	if b.s.current == turnID {
		b.s.current = ""
	}
}

func (b *builder) nextSynthetic() int {
	b.s.synthetic++
	return b.s.synthetic
}
