package veld

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// This file implements §4.F, the scope engine. Grounded on the teacher's
// Scope (di/lifetime.go) for the "named instance cache" shape, generalized
// from a single scoped-map type into the pluggable Scope interface §4.F
// specifies, and on golang.org/x/sync/singleflight (pulled in from
// deep-rent-nexus's dependency set) for the singleton "at most one create()
// runs per key" guarantee called out in §4.F/§5.

// Factory0 is the zero-argument creation closure a Scope invokes; it is
// deliberately narrower than veld.Factory so Scope implementations do not
// need to know about the registry.
type Factory0 func() (any, error)

// Scope is the pluggable per-identity instance cache §4.F specifies.
type Scope interface {
	ID() string
	DisplayName() string

	// Get returns the instance for name, calling factory.create() or
	// returning a cached instance at the implementation's discretion.
	Get(ctx context.Context, name string, factory Factory0) (any, error)

	// Remove discards the cached instance for name, if any, returning it.
	Remove(ctx context.Context, name string) (any, bool)

	// Destroy releases every cached instance, invoking preDestroy on each
	// in reverse insertion order.
	Destroy(preDestroy func(instance any)) error

	// IsActive reports whether Get may be called right now.
	IsActive(ctx context.Context) bool
}

// Built-in scope ids.
const (
	ScopeSingleton = "singleton"
	ScopePrototype = "prototype"
	ScopeRequest   = "request"
	ScopeSession   = "session"
)

// --- Singleton -------------------------------------------------------------

// SingletonScope caches at most one instance per name for the life of the
// container. Concurrent Get calls for the same name are serialized via
// singleflight so exactly one create() completes (§4.F, §5).
type SingletonScope struct {
	mu      sync.RWMutex
	cache   map[string]any
	order   []string // insertion order, for reverse pre-destroy
	group   singleflight.Group
}

// NewSingletonScope constructs an empty singleton scope.
func NewSingletonScope() *SingletonScope {
	return &SingletonScope{cache: make(map[string]any)}
}

func (s *SingletonScope) ID() string          { return ScopeSingleton }
func (s *SingletonScope) DisplayName() string { return "Singleton" }

func (s *SingletonScope) Get(_ context.Context, name string, factory Factory0) (any, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.group.Do(name, func() (any, error) {
		s.mu.RLock()
		if v, ok := s.cache[name]; ok {
			s.mu.RUnlock()
			return v, nil
		}
		s.mu.RUnlock()

		instance, err := factory()
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[name] = instance
		s.order = append(s.order, name)
		s.mu.Unlock()
		return instance, nil
	})
	return v, err
}

func (s *SingletonScope) Remove(_ context.Context, name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[name]
	if ok {
		delete(s.cache, name)
	}
	return v, ok
}

func (s *SingletonScope) Destroy(preDestroy func(instance any)) error {
	s.mu.Lock()
	order := append([]string(nil), s.order...)
	cache := s.cache
	s.cache = make(map[string]any)
	s.order = nil
	s.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		if v, ok := cache[order[i]]; ok && preDestroy != nil {
			preDestroy(v)
		}
	}
	return nil
}

func (s *SingletonScope) IsActive(context.Context) bool { return true }

// --- Prototype ---------------------------------------------------------

// PrototypeScope never caches: every Get forwards to factory(); Destroy is
// a no-op because the scope owns no instances (§3 invariant 4, §4.F).
type PrototypeScope struct{}

// NewPrototypeScope constructs a prototype scope.
func NewPrototypeScope() *PrototypeScope { return &PrototypeScope{} }

func (PrototypeScope) ID() string          { return ScopePrototype }
func (PrototypeScope) DisplayName() string { return "Prototype" }
func (PrototypeScope) Get(_ context.Context, _ string, factory Factory0) (any, error) {
	return factory()
}
func (PrototypeScope) Remove(context.Context, string) (any, bool) { return nil, false }
func (PrototypeScope) Destroy(func(any)) error                    { return nil }
func (PrototypeScope) IsActive(context.Context) bool               { return true }

// --- Request -------------------------------------------------------------

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx for the request scope to
// consult. Go has no implicit thread-locals (§9 design note, Open Question
// #2): hosts must thread the id explicitly, typically once per inbound
// request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom extracts a request id set by WithRequestID.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

type requestBucket struct {
	instances map[string]any
	order     []string
}

// RequestScope keys instances by a host-supplied request id carried on
// context.Context. It enforces a per-request bean cap and a cap on
// concurrently active requests (§4.F).
type RequestScope struct {
	mu         sync.Mutex
	buckets    map[string]*requestBucket
	beanLimit  int
	activeCap  int
}

// NewRequestScope constructs a request scope with the given caps; zero
// values fall back to the spec defaults (1000 beans/request, 10000 active
// requests).
func NewRequestScope(beanLimit, activeCap int) *RequestScope {
	if beanLimit <= 0 {
		beanLimit = 1000
	}
	if activeCap <= 0 {
		activeCap = 10000
	}
	return &RequestScope{buckets: make(map[string]*requestBucket), beanLimit: beanLimit, activeCap: activeCap}
}

func (r *RequestScope) ID() string          { return ScopeRequest }
func (r *RequestScope) DisplayName() string { return "Request" }

func (r *RequestScope) Get(ctx context.Context, name string, factory Factory0) (any, error) {
	reqID, ok := RequestIDFrom(ctx)
	if !ok {
		return nil, NoRequestContextError{}
	}

	r.mu.Lock()
	bucket, exists := r.buckets[reqID]
	if !exists {
		if len(r.buckets) >= r.activeCap {
			r.mu.Unlock()
			return nil, ScopeBeanLimitExceededError{ScopeID: ScopeRequest, Context: reqID, Limit: r.activeCap}
		}
		bucket = &requestBucket{instances: make(map[string]any)}
		r.buckets[reqID] = bucket
	}
	if v, ok := bucket.instances[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	if len(bucket.instances) >= r.beanLimit {
		r.mu.Unlock()
		return nil, ScopeBeanLimitExceededError{ScopeID: ScopeRequest, Context: reqID, Limit: r.beanLimit}
	}
	r.mu.Unlock()

	instance, err := factory()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	bucket.instances[name] = instance
	bucket.order = append(bucket.order, name)
	r.mu.Unlock()
	return instance, nil
}

func (r *RequestScope) Remove(ctx context.Context, name string) (any, bool) {
	reqID, ok := RequestIDFrom(ctx)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[reqID]
	if !ok {
		return nil, false
	}
	v, ok := bucket.instances[name]
	if ok {
		delete(bucket.instances, name)
	}
	return v, ok
}

// EndRequest discards the bucket for reqID, invoking preDestroy on each of
// its instances in reverse insertion order. Hosts call this when a request
// completes.
func (r *RequestScope) EndRequest(reqID string, preDestroy func(any)) {
	r.mu.Lock()
	bucket, ok := r.buckets[reqID]
	if ok {
		delete(r.buckets, reqID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	for i := len(bucket.order) - 1; i >= 0; i-- {
		if v, ok := bucket.instances[bucket.order[i]]; ok && preDestroy != nil {
			preDestroy(v)
		}
	}
}

func (r *RequestScope) Destroy(preDestroy func(any)) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.buckets))
	for id := range r.buckets {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.EndRequest(id, preDestroy)
	}
	return nil
}

func (r *RequestScope) IsActive(ctx context.Context) bool {
	_, ok := RequestIDFrom(ctx)
	return ok
}

// --- Session -------------------------------------------------------------

type sessionIDKey struct{}

// WithSessionID attaches a session id to ctx for the session scope to
// consult.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFrom extracts a session id set by WithSessionID.
func SessionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok && id != ""
}

type sessionEntry struct {
	instances  map[string]any
	order      []string
	lastAccess time.Time
}

// SessionScope keys instances by an externally assigned session id and
// expires sessions after an inactivity timeout (default 30 minutes),
// bounding beans-per-session and active-sessions the same way RequestScope
// bounds its own caps.
type SessionScope struct {
	mu        sync.Mutex
	sessions  map[string]*sessionEntry
	timeout   time.Duration
	beanLimit int
	activeCap int
	now       func() time.Time
}

// NewSessionScope constructs a session scope; zero values fall back to the
// spec defaults (30 minute timeout, 1000 beans/session, 10000 active
// sessions).
func NewSessionScope(timeout time.Duration, beanLimit, activeCap int) *SessionScope {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if beanLimit <= 0 {
		beanLimit = 1000
	}
	if activeCap <= 0 {
		activeCap = 10000
	}
	return &SessionScope{
		sessions:  make(map[string]*sessionEntry),
		timeout:   timeout,
		beanLimit: beanLimit,
		activeCap: activeCap,
		now:       time.Now,
	}
}

func (s *SessionScope) ID() string          { return ScopeSession }
func (s *SessionScope) DisplayName() string { return "Session" }

func (s *SessionScope) Get(ctx context.Context, name string, factory Factory0) (any, error) {
	sessionID, ok := SessionIDFrom(ctx)
	if !ok {
		return nil, NoSessionContextError{}
	}

	s.mu.Lock()
	entry, exists := s.sessions[sessionID]
	now := s.now()
	if exists && now.Sub(entry.lastAccess) > s.timeout {
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return nil, SessionExpiredError{SessionID: sessionID}
	}
	if !exists {
		if len(s.sessions) >= s.activeCap {
			s.mu.Unlock()
			return nil, ScopeBeanLimitExceededError{ScopeID: ScopeSession, Context: sessionID, Limit: s.activeCap}
		}
		entry = &sessionEntry{instances: make(map[string]any), lastAccess: now}
		s.sessions[sessionID] = entry
	}
	entry.lastAccess = now
	if v, ok := entry.instances[name]; ok {
		s.mu.Unlock()
		return v, nil
	}
	if len(entry.instances) >= s.beanLimit {
		s.mu.Unlock()
		return nil, ScopeBeanLimitExceededError{ScopeID: ScopeSession, Context: sessionID, Limit: s.beanLimit}
	}
	s.mu.Unlock()

	instance, err := factory()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// Re-check expiry: the factory call may have taken long enough that the
	// session expired while it ran.
	entry, exists = s.sessions[sessionID]
	if !exists {
		s.mu.Unlock()
		return nil, SessionExpiredError{SessionID: sessionID}
	}
	entry.instances[name] = instance
	entry.order = append(entry.order, name)
	s.mu.Unlock()
	return instance, nil
}

func (s *SessionScope) Remove(ctx context.Context, name string) (any, bool) {
	sessionID, ok := SessionIDFrom(ctx)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	v, ok := entry.instances[name]
	if ok {
		delete(entry.instances, name)
	}
	return v, ok
}

// ExpireSession discards the session's bean map immediately, invoking
// preDestroy on each in reverse insertion order.
func (s *SessionScope) ExpireSession(sessionID string, preDestroy func(any)) {
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	for i := len(entry.order) - 1; i >= 0; i-- {
		if v, ok := entry.instances[entry.order[i]]; ok && preDestroy != nil {
			preDestroy(v)
		}
	}
}

func (s *SessionScope) Destroy(preDestroy func(any)) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.ExpireSession(id, preDestroy)
	}
	return nil
}

func (s *SessionScope) IsActive(ctx context.Context) bool {
	sessionID, ok := SessionIDFrom(ctx)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return true // not yet created is still "may be created"
	}
	return s.now().Sub(entry.lastAccess) <= s.timeout
}

// --- Registry --------------------------------------------------------------

// ScopeRegistry holds every scope known to a container, keyed by id. Custom
// scopes register here programmatically, matching §4.F's
// "registered programmatically or discovered via a service-provider
// mechanism". The registry itself is safe for concurrent access; individual
// scopes serialize their own state (§5 "shared-resource policy").
type ScopeRegistry struct {
	mu     sync.RWMutex
	scopes map[string]Scope
}

// NewScopeRegistry constructs a registry pre-populated with the built-in
// singleton and prototype scopes.
func NewScopeRegistry() *ScopeRegistry {
	r := &ScopeRegistry{scopes: make(map[string]Scope)}
	r.Register(NewSingletonScope())
	r.Register(NewPrototypeScope())
	return r
}

// Register adds or replaces a scope by its ID.
func (r *ScopeRegistry) Register(s Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes[s.ID()] = s
}

// Get returns the scope for id, or NoSuchScopeError.
func (r *ScopeRegistry) Get(id string) (Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scopes[id]
	if !ok {
		return nil, NoSuchScopeError{ScopeID: id}
	}
	return s, nil
}

// DestroyAll destroys every registered scope, singleton last so that
// singleton-scoped pre-destroy hooks still see any request/session/custom
// scoped collaborators they might reach into during teardown.
func (r *ScopeRegistry) DestroyAll(preDestroy func(any)) error {
	r.mu.RLock()
	scopes := make([]Scope, 0, len(r.scopes))
	for _, s := range r.scopes {
		if s.ID() != ScopeSingleton {
			scopes = append(scopes, s)
		}
	}
	singleton, hasSingleton := r.scopes[ScopeSingleton]
	r.mu.RUnlock()

	var firstErr error
	for _, s := range scopes {
		if err := s.Destroy(preDestroy); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if hasSingleton {
		if err := singleton.Destroy(preDestroy); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// spiScopes is the service-provider registry for process-wide custom scope
// factories, discovered at container construction time (§9 design note:
// "custom scopes are registered on that handle or discovered via a
// service-provider mechanism").
var (
	spiMu     sync.Mutex
	spiScopes = map[string]func() Scope{}
)

// RegisterScopeProvider makes a custom scope constructor discoverable by
// id. Typically called from an init() in a package that defines a custom
// scope, mirroring Go's database/sql driver registration pattern.
func RegisterScopeProvider(id string, ctor func() Scope) {
	spiMu.Lock()
	defer spiMu.Unlock()
	spiScopes[id] = ctor
}

// scopeProviders returns a snapshot of every registered SPI scope
// constructor.
func scopeProviders() map[string]func() Scope {
	spiMu.Lock()
	defer spiMu.Unlock()
	out := make(map[string]func() Scope, len(spiScopes))
	for k, v := range spiScopes {
		out[k] = v
	}
	return out
}
