package model

import "sort"

// Timeline is an ordered, id-deduplicated view of a conversation's messages.
// Clients that append their own sends optimistically and also receive them back
// from the realtime channel merge both through Add.
type Timeline struct {
	msgs []Message
	ids  map[uint64]int
}

func NewTimeline(msgs ...Message) *Timeline {
	t := &Timeline{ids: make(map[uint64]int, len(msgs))}
	for _, m := range msgs {
		t.Add(m)
	}
	return t
}

// Add inserts m in (createdAt, id) order. A message already present is updated in place
// (read state may have changed) and Add reports false.
func (t *Timeline) Add(m Message) bool {
	if i, ok := t.ids[m.ID]; ok {
		t.msgs[i].IsRead = m.IsRead || t.msgs[i].IsRead
		if m.ReadAt != nil {
			t.msgs[i].ReadAt = m.ReadAt
		}
		return false
	}
	pos := sort.Search(len(t.msgs), func(i int) bool { return m.Before(t.msgs[i]) })
	t.msgs = append(t.msgs, Message{})
	copy(t.msgs[pos+1:], t.msgs[pos:])
	t.msgs[pos] = m
	for i := pos; i < len(t.msgs); i++ {
		t.ids[t.msgs[i].ID] = i
	}
	return true
}

func (t *Timeline) Has(id uint64) bool {
	_, ok := t.ids[id]
	return ok
}

func (t *Timeline) Len() int { return len(t.msgs) }

func (t *Timeline) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}
