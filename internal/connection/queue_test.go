package connection

import (
	"slices"
	"testing"
)

func frames(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func strs(fs [][]byte) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}

func TestQueue_Push(t *testing.T) {
	q := newQueue(2)

	if q.push([]byte("a")) || q.push([]byte("b")) {
		t.Fatal("push below capacity reported a drop")
	}
	if !q.push([]byte("c")) {
		t.Error("push at capacity did not report a drop")
	}
	if got := strs(q.drain()); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("drain() = %v, want [b c]", got)
	}
	if q.len() != 0 {
		t.Errorf("len() after drain = %d", q.len())
	}
}

func TestQueue_Disabled(t *testing.T) {
	q := newQueue(-1)
	if !q.push([]byte("a")) {
		t.Error("push into a disabled queue must report a drop")
	}
	if q.len() != 0 {
		t.Errorf("len() = %d, want 0", q.len())
	}
}

func TestQueue_Requeue(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		queued   []string
		requeue  []string
		want     []string
	}{
		{
			name:     "restores order at head",
			capacity: 10,
			queued:   []string{"d"},
			requeue:  []string{"a", "b", "c"},
			want:     []string{"a", "b", "c", "d"},
		},
		{
			name:     "trims oldest beyond capacity",
			capacity: 3,
			queued:   []string{"d", "e"},
			requeue:  []string{"a", "b"},
			want:     []string{"b", "d", "e"},
		},
		{
			name:     "empty queue",
			capacity: 3,
			requeue:  []string{"a"},
			want:     []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQueue(tt.capacity)
			for _, f := range tt.queued {
				q.push([]byte(f))
			}
			q.requeue(frames(tt.requeue...))
			if got := strs(q.drain()); !slices.Equal(got, tt.want) {
				t.Errorf("queue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueue_Clear(t *testing.T) {
	q := newQueue(3)
	q.push([]byte("a"))
	q.clear()
	if q.len() != 0 {
		t.Errorf("len() after clear = %d", q.len())
	}
}
