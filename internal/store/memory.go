package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore is the in-memory substitute spec.md §4.1 requires for tests:
// same Store contract, no network, fully synchronous.
type memoryStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	lists   map[string][]string // head = index 0
	strs    map[string]memEntry
	workers map[string]WorkerRecord
	subs    map[string][]chan string
}

type memEntry struct {
	value   string
	expires time.Time
	hasTTL  bool
}

func NewMemoryStore() Store {
	return &memoryStore{
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		strs:    make(map[string]memEntry),
		workers: make(map[string]WorkerRecord),
		subs:    make(map[string][]chan string),
	}
}

func (m *memoryStore) hash(key string) map[string]string {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	return h
}

func (m *memoryStore) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hash(key)[field] = value
	return nil
}

func (m *memoryStore) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hash(key)
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (m *memoryStore) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (m *memoryStore) HScan(_ context.Context, key, match string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		if match == "" || match == "*" || strings.Contains(k, strings.Trim(match, "*")) {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memoryStore) HMGet(_ context.Context, key string, fields ...string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashes[key]
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = h[f]
	}
	return out, nil
}

func (m *memoryStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.lists[key] = append([]string{v}, m.lists[key]...)
	}
	return nil
}

func (m *memoryStore) RPop(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	if len(l) == 0 {
		return "", ErrNotFound
	}
	v := l[len(l)-1]
	m.lists[key] = l[:len(l)-1]
	return v, nil
}

// BRPop in the memory store polls rather than truly blocking on a
// condition variable; good enough for unit tests, never used in production.
func (m *memoryStore) BRPop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		v, err := m.RPop(ctx, key)
		if err == nil {
			return v, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return "", ErrNotFound
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *memoryStore) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *memoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (m *memoryStore) LRem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	out := l[:0]
	for _, v := range l {
		if v != value {
			out = append(out, v)
		}
	}
	m.lists[key] = out
	return nil
}

func (m *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.hasTTL = true
		e.expires = time.Now().Add(ttl)
	}
	m.strs[key] = e
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strs[key]
	if !ok {
		return "", ErrNotFound
	}
	if e.hasTTL && time.Now().After(e.expires) {
		delete(m.strs, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *memoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strs[key]
	if !ok {
		return nil
	}
	e.hasTTL = true
	e.expires = time.Now().Add(ttl)
	m.strs[key] = e
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.hashes, k)
		delete(m.lists, k)
		delete(m.strs, k)
	}
	return nil
}

func (m *memoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	seen := make(map[string]bool)
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) && !seen[k] {
			out = append(out, k)
			seen[k] = true
		}
	}
	for k := range m.strs {
		if strings.HasPrefix(k, prefix) && !seen[k] {
			out = append(out, k)
			seen[k] = true
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) PutWorker(_ context.Context, w WorkerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.Name] = w
	return nil
}

func (m *memoryStore) GetWorker(_ context.Context, name string) (*WorkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := w
	return &cp, nil
}

func (m *memoryStore) ListWorkers(_ context.Context) ([]WorkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WorkerRecord, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	return out, nil
}

func (m *memoryStore) DeleteWorker(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, name)
	return nil
}

func (m *memoryStore) Publish(_ context.Context, channel, payload string) error {
	m.mu.Lock()
	subs := append([]chan string(nil), m.subs[channel]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (m *memoryStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ch := make(chan string, 16)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()
	return &memSubscription{store: m, channel: channel, ch: ch}, nil
}

func (m *memoryStore) Close() error { return nil }

type memSubscription struct {
	store   *memoryStore
	channel string
	ch      chan string
}

func (s *memSubscription) Channel() <-chan string { return s.ch }

func (s *memSubscription) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	subs := s.store.subs[s.channel]
	for i, ch := range subs {
		if ch == s.ch {
			s.store.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// memoryPipeline buffers ops and applies them in order on Exec. Each op
// takes the store lock on its own, so a concurrent caller can observe
// the batch partly applied.
type memoryPipeline struct {
	store *memoryStore
	ops   []func() error
}

func (m *memoryStore) Pipeline() Pipeline {
	return &memoryPipeline{store: m}
}

func (p *memoryPipeline) HSet(key, field, value string) {
	p.ops = append(p.ops, func() error { return p.store.HSet(context.Background(), key, field, value) })
}
func (p *memoryPipeline) HSetNX(key, field, value string) {
	p.ops = append(p.ops, func() error {
		_, err := p.store.HSetNX(context.Background(), key, field, value)
		return err
	})
}
func (p *memoryPipeline) HDel(key string, fields ...string) {
	p.ops = append(p.ops, func() error { return p.store.HDel(context.Background(), key, fields...) })
}
func (p *memoryPipeline) LPush(key string, values ...string) {
	p.ops = append(p.ops, func() error { return p.store.LPush(context.Background(), key, values...) })
}
func (p *memoryPipeline) Del(keys ...string) {
	p.ops = append(p.ops, func() error { return p.store.Del(context.Background(), keys...) })
}
func (p *memoryPipeline) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, func() error { return p.store.Set(context.Background(), key, value, ttl) })
}

func (p *memoryPipeline) Exec(ctx context.Context) error {
	var firstErr error
	for _, op := range p.ops {
		if err := op(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
