package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/skillnest/realtime/internal/stats"
	"github.com/skillnest/realtime/internal/types"
)

// Member is a local receiver of group events, usually one connection.
type Member interface {
	// Ref identifies the member uniquely across all processes.
	Ref() string
	// Deliver must not block. It reports false when the payload was not
	// accepted.
	Deliver(payload []byte) bool
}

type envelope struct {
	Exclude []string        `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Router joins local members to backend groups. Each group with at least one
// local member holds one backend subscription drained by a single goroutine,
// so every member sees a group's events in the order the backend delivered
// them.
type Router struct {
	backend Backend
	nodeId  string
	log     *zap.Logger
	stats   stats.StatsProvider

	mu     sync.Mutex
	groups map[string]*localGroup
	closed bool
}

// localGroup is published in Router.groups before its subscription exists.
// ready is closed once the subscribe attempt finishes; sub and err are
// read only after that.
type localGroup struct {
	name    string
	sub     Subscription
	err     error
	ready   chan struct{}
	mu      sync.RWMutex
	members map[string]Member
	done    chan struct{}
	wg      sync.WaitGroup
}

func newLocalGroup(name string) *localGroup {
	return &localGroup{
		name:    name,
		members: make(map[string]Member),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func NewRouter(backend Backend, nodeId string, logger *zap.Logger, sp stats.StatsProvider) *Router {
	if sp == nil {
		sp = stats.NopStats{}
	}
	return &Router{
		backend: backend,
		nodeId:  nodeId,
		log:     logger.Named("router"),
		stats:   sp,
		groups:  make(map[string]*localGroup),
	}
}

func (r *Router) memberRef(m Member) string {
	return r.nodeId + "/" + m.Ref()
}

// Join subscribes m to group. On error m is not joined. The backend
// subscription is opened without holding the router lock, so a slow
// subscribe only delays joiners of the same group.
func (r *Router) Join(ctx context.Context, group string, m Member) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrBackendUnavailable
	}

	g, ok := r.groups[group]
	if !ok {
		g = newLocalGroup(group)
		r.groups[group] = g
	}
	g.mu.Lock()
	g.members[m.Ref()] = m
	g.mu.Unlock()
	r.mu.Unlock()

	if !ok {
		r.subscribe(ctx, g)
	}

	select {
	case <-g.ready:
	case <-ctx.Done():
		r.detach(group, m)
		return ctx.Err()
	}
	if g.err != nil {
		return g.err
	}

	if err := r.backend.AddMember(ctx, group, r.memberRef(m)); err != nil {
		r.detach(group, m)
		return unavailable("join "+group, err)
	}

	r.log.Debug("member joined", zap.String("group", group), zap.String("member", m.Ref()))
	return nil
}

// subscribe opens the backend subscription of a pending group. A failed
// group is dropped from the router and every joiner waiting on it fails.
func (r *Router) subscribe(ctx context.Context, g *localGroup) {
	sub, err := r.backend.Subscribe(ctx, g.name)

	r.mu.Lock()
	switch {
	case err != nil:
		g.err = unavailable("subscribe "+g.name, err)
	case r.closed:
		g.err = ErrBackendUnavailable
		if cerr := sub.Close(); cerr != nil {
			r.log.Warn("closing group subscription", zap.String("group", g.name), zap.Error(cerr))
		}
	default:
		g.sub = sub
		g.wg.Add(1)
		go r.fanOut(g)
		r.stats.Incr(stats.ActiveGroups)
	}
	if g.err != nil && r.groups[g.name] == g {
		delete(r.groups, g.name)
	}
	r.mu.Unlock()

	close(g.ready)
}

// Leave removes m from group. The member is always detached locally, the
// returned error only reports a failed backend update.
func (r *Router) Leave(ctx context.Context, group string, m Member) error {
	r.detach(group, m)

	if err := r.backend.RemoveMember(ctx, group, r.memberRef(m)); err != nil {
		return unavailable("leave "+group, err)
	}

	r.log.Debug("member left", zap.String("group", group), zap.String("member", m.Ref()))
	return nil
}

func (r *Router) detach(group string, m Member) {
	r.mu.Lock()
	g, ok := r.groups[group]
	if !ok {
		r.mu.Unlock()
		return
	}

	g.mu.Lock()
	delete(g.members, m.Ref())
	empty := len(g.members) == 0
	g.mu.Unlock()

	if empty {
		delete(r.groups, group)
	}
	r.mu.Unlock()

	if empty {
		r.closeGroup(g)
	}
}

func (r *Router) closeGroup(g *localGroup) {
	<-g.ready
	if g.sub == nil {
		return
	}
	close(g.done)
	if err := g.sub.Close(); err != nil {
		r.log.Warn("closing group subscription", zap.String("group", g.name), zap.Error(err))
	}
	g.wg.Wait()
	r.stats.Decr(stats.ActiveGroups)
}

// Publish sends payload to every member of group on every process. Members
// whose Ref is listed in exclude do not receive it.
func (r *Router) Publish(ctx context.Context, group string, payload []byte, exclude ...string) error {
	data, err := json.Marshal(envelope{Exclude: exclude, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := r.backend.Publish(ctx, group, data); err != nil {
		return unavailable("publish "+group, err)
	}

	r.stats.Incr(stats.MessagesPublished)
	return nil
}

func (r *Router) PublishEvent(ctx context.Context, group string, ev types.Event, exclude ...string) error {
	payload, err := types.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	return r.Publish(ctx, group, payload, exclude...)
}

// Refresh re-adds every local member to the backend. Backends that expire
// membership rely on it being called well within their TTL. A member that
// leaves while a refresh is in flight may linger until it expires.
func (r *Router) Refresh(ctx context.Context) error {
	type entry struct {
		group string
		ref   string
	}

	r.mu.Lock()
	var entries []entry
	for name, g := range r.groups {
		select {
		case <-g.ready:
		default:
			continue
		}
		if g.err != nil {
			continue
		}
		g.mu.RLock()
		for ref := range g.members {
			entries = append(entries, entry{group: name, ref: r.nodeId + "/" + ref})
		}
		g.mu.RUnlock()
	}
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := r.backend.AddMember(ctx, e.group, e.ref); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s in %s: %w", e.ref, e.group, err))
		}
	}
	if len(errs) > 0 {
		return unavailable("refresh", errors.Join(errs...))
	}
	return nil
}

// Members lists the member refs of group across all processes.
func (r *Router) Members(ctx context.Context, group string) ([]string, error) {
	refs, err := r.backend.Members(ctx, group)
	if err != nil {
		return nil, unavailable("members "+group, err)
	}
	return refs, nil
}

// LocalMembers reports how many members of group are attached to this
// router.
func (r *Router) LocalMembers(group string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[group]
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

func (r *Router) Ping(ctx context.Context) error {
	if err := r.backend.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close drops every local group and closes the backend.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	groups := r.groups
	r.groups = make(map[string]*localGroup)
	r.mu.Unlock()

	for _, g := range groups {
		r.closeGroup(g)
	}
	return r.backend.Close()
}

func (r *Router) fanOut(g *localGroup) {
	defer g.wg.Done()

	ch := g.sub.Channel()
	for {
		select {
		case <-g.done:
			return
		case data, ok := <-ch:
			if !ok {
				r.log.Warn("group subscription ended", zap.String("group", g.name))
				return
			}
			r.dispatch(g, data)
		}
	}
}

func (r *Router) dispatch(g *localGroup, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.log.Warn("dropping undecodable group payload", zap.String("group", g.name), zap.Error(err))
		return
	}

	g.mu.RLock()
	members := make([]Member, 0, len(g.members))
	for ref, m := range g.members {
		if excluded(ref, env.Exclude) {
			continue
		}
		members = append(members, m)
	}
	g.mu.RUnlock()

	for _, m := range members {
		if !r.deliver(m, env.Payload) {
			r.stats.Incr(stats.DroppedDeliveries)
			r.log.Warn("delivery failed",
				zap.String("group", g.name),
				zap.String("member", m.Ref()),
			)
		}
	}
}

func (r *Router) deliver(m Member, payload []byte) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("member delivery panicked", zap.String("member", m.Ref()), zap.Any("panic", rec))
			ok = false
		}
	}()
	return m.Deliver(payload)
}

func excluded(ref string, exclude []string) bool {
	for _, e := range exclude {
		if e == ref {
			return true
		}
	}
	return false
}
