package broadcast

import (
	"context"
	"sort"
	"sync"
)

const memorySubscriptionBuffer = 256

// MemoryBackend keeps groups in process memory. It serves single-node
// deployments and tests; it cannot reach connections held by other
// processes.
type MemoryBackend struct {
	mu      sync.Mutex
	closed  bool
	topics  map[string]*memoryTopic
	members map[string]map[string]struct{}
}

type memoryTopic struct {
	pubMu sync.Mutex
	mu    sync.RWMutex
	subs  map[*memorySubscription]struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		topics:  make(map[string]*memoryTopic),
		members: make(map[string]map[string]struct{}),
	}
}

func (b *MemoryBackend) topic(group string) (*memoryTopic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBackendUnavailable
	}
	t, ok := b.topics[group]
	if !ok {
		t = &memoryTopic{subs: make(map[*memorySubscription]struct{})}
		b.topics[group] = t
	}
	return t, nil
}

// Publish hands payload to every subscription of the group. Publishes to
// the same group are serialized.
func (b *MemoryBackend) Publish(ctx context.Context, group string, payload []byte) error {
	t, err := b.topic(group)
	if err != nil {
		return err
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.RLock()
	subs := make([]*memorySubscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- payload:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBackend) Subscribe(ctx context.Context, group string) (Subscription, error) {
	t, err := b.topic(group)
	if err != nil {
		return nil, err
	}

	s := &memorySubscription{
		topic: t,
		ch:    make(chan []byte, memorySubscriptionBuffer),
		done:  make(chan struct{}),
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()
	return s, nil
}

func (b *MemoryBackend) AddMember(ctx context.Context, group, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendUnavailable
	}
	set, ok := b.members[group]
	if !ok {
		set = make(map[string]struct{})
		b.members[group] = set
	}
	set[ref] = struct{}{}
	return nil
}

func (b *MemoryBackend) RemoveMember(ctx context.Context, group, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendUnavailable
	}
	if set, ok := b.members[group]; ok {
		delete(set, ref)
		if len(set) == 0 {
			delete(b.members, group)
		}
	}
	return nil
}

func (b *MemoryBackend) Members(ctx context.Context, group string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBackendUnavailable
	}
	refs := make([]string, 0, len(b.members[group]))
	for ref := range b.members[group] {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendUnavailable
	}
	return nil
}

// Close makes every later operation fail with ErrBackendUnavailable.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}

type memorySubscription struct {
	topic     *memoryTopic
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) Channel() <-chan []byte {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.topic.mu.Lock()
		delete(s.topic.subs, s)
		s.topic.mu.Unlock()
		close(s.done)
	})
	return nil
}
