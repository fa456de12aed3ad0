package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and single-node local
// runs. All mutations happen under one mutex, so ConditionalUpdate never
// observes a conflict.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string]json.RawMessage
	valSubs  map[string]map[int]chan Snapshot
	listSubs map[string]map[int]chan []ListItem
	nextSub  int
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]json.RawMessage),
		valSubs:  make(map[string]map[int]chan Snapshot),
		listSubs: make(map[string]map[int]chan []ListItem),
		now:      time.Now,
	}
}

func (m *MemoryStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[path]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[path] = value
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, path string, fields map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj := map[string]json.RawMessage{}
	if cur, ok := m.values[path]; ok {
		if err := json.Unmarshal(cur, &obj); err != nil {
			return err
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	m.values[path] = b
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[path]; !ok {
		return nil
	}
	delete(m.values, path)
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) AppendChild(ctx context.Context, listPath string, value json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := NewPushKey(m.now())
	m.values[listPath+"/"+key] = value
	m.notifyLocked(listPath + "/" + key)
	return key, nil
}

func (m *MemoryStore) List(ctx context.Context, listPath string) ([]ListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(listPath), nil
}

func (m *MemoryStore) listLocked(listPath string) []ListItem {
	prefix := listPath + "/"
	var items []ListItem
	for p, v := range m.values {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		key := p[len(prefix):]
		if strings.Contains(key, "/") {
			continue // grandchild, not a direct list member
		}
		items = append(items, ListItem{Key: key, Value: v})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items
}

func (m *MemoryStore) SubscribeValue(ctx context.Context, path string) (<-chan Snapshot, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Snapshot, 1)
	if m.valSubs[path] == nil {
		m.valSubs[path] = make(map[int]chan Snapshot)
	}
	m.valSubs[path][id] = ch
	v, ok := m.values[path]
	push(ch, Snapshot{Value: v, Exists: ok})
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.valSubs[path]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(m.valSubs, path)
			}
		}
	}
	return ch, cancel, nil
}

func (m *MemoryStore) SubscribeList(ctx context.Context, listPath string) (<-chan []ListItem, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan []ListItem, 1)
	if m.listSubs[listPath] == nil {
		m.listSubs[listPath] = make(map[int]chan []ListItem)
	}
	m.listSubs[listPath][id] = ch
	push(ch, m.listLocked(listPath))
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.listSubs[listPath]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(m.listSubs, listPath)
			}
		}
	}
	return ch, cancel, nil
}

func (m *MemoryStore) ConditionalUpdate(ctx context.Context, path string, fn UpdateFn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.values[path]
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	m.values[path] = next
	m.notifyLocked(path)
	return nil
}

// notifyLocked fans the change at path out to value subscribers of that path
// and list subscribers of its parent. Channels hold only the latest
// snapshot; a stale unread one is replaced.
func (m *MemoryStore) notifyLocked(path string) {
	if subs, ok := m.valSubs[path]; ok {
		v, exists := m.values[path]
		for _, ch := range subs {
			push(ch, Snapshot{Value: v, Exists: exists})
		}
	}
	parent := ParentPath(path)
	if parent == "" {
		return
	}
	if subs, ok := m.listSubs[parent]; ok {
		items := m.listLocked(parent)
		for _, ch := range subs {
			push(ch, items)
		}
	}
}

func push[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch: // drop the stale snapshot
			default:
			}
		}
	}
}
