package veld

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// This file implements §4.H, the resolver runtime, and the public facade
// §6 exposes to callers. Grounded on the teacher's generic Resolve/
// MustResolve/ResolveInScope functions (di/container.go) — Go has no
// generic methods, so the public API stays package-level generic functions
// taking *Container, exactly as the teacher shapes it — generalized to
// dispatch through the pluggable Scope layer and the conditional registry
// instead of a single hard-coded lifetime switch.

// AnyProvider is the untyped form a containerArgResolver hands back for a
// WrapperProvider injection point; generated factory code type-asserts its
// result the way it type-asserts every other Resolve return value.
type AnyProvider func() (any, error)

// Container is the runtime facade: indexed registry + scope engine +
// lifecycle processor, wired together after boot (§4.H, §6).
type Container struct {
	registry  Registry
	graph     *Graph
	scopes    *ScopeRegistry
	lifecycle *LifecycleProcessor
	diags     *Diagnostics
	excluded  []Excluded
	profiles  []string
	log       Logger
}

// Logger is the minimal logging capability the container needs; see
// internal/obslog for the charmbracelet/log-backed implementation wired by
// cmd/veld.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BootOption configures Boot.
type BootOption func(*bootConfig)

type bootConfig struct {
	props    PropertySource
	loader   ClassLoader
	log      Logger
	profiles []string
	extraScopes []Scope
}

// WithPropertySource supplies the property/environment collaborator used by
// property-match and profile-match conditions.
func WithPropertySource(p PropertySource) BootOption {
	return func(c *bootConfig) { c.props = p }
}

// WithClassLoader supplies the class-presence collaborator.
func WithClassLoader(l ClassLoader) BootOption {
	return func(c *bootConfig) { c.loader = l }
}

// WithLogger supplies a Logger for boot diagnostics.
func WithLogger(l Logger) BootOption {
	return func(c *bootConfig) { c.log = l }
}

// WithActiveProfiles records profiles as the container's active-profile set
// in place of whatever the PropertySource reports (SetActiveProfiles can
// change it later; see §6). Profile-match conditions evaluated during Boot
// read ActiveProfiles from the PropertySource; this option does not change
// their outcome.
func WithActiveProfiles(profiles ...string) BootOption {
	return func(c *bootConfig) { c.profiles = profiles }
}

// WithScope registers an additional scope (request/session/custom) before
// boot.
func WithScope(s Scope) BootOption {
	return func(c *bootConfig) { c.extraScopes = append(c.extraScopes, s) }
}

// Boot runs the full build-time-to-run-time pipeline in one call: resolves
// the dependency graph (§4.B), filters it through the conditional registry
// (§4.E), wires the scope engine (§4.F) and lifecycle processor (§4.G), and
// instantiates every non-lazy singleton in resolver order (§4.G step 1). On
// any fatal diagnostic, no partial container is returned (§6 "exit codes").
func Boot(ir *AnnotationIR, factories map[string]Factory, opts ...BootOption) (*Container, error) {
	cfg := &bootConfig{log: noopLogger{}}
	for _, o := range opts {
		o(cfg)
	}

	resolver := NewResolver(ir)
	graph, diags, err := resolver.Build()
	if err != nil {
		return nil, err
	}

	candidates := make([]Factory, 0, len(graph.Order))
	for _, id := range graph.Order {
		f, ok := factories[id]
		if !ok {
			continue
		}
		candidates = append(candidates, f)
	}

	cr := &ConditionalRegistry{Props: cfg.props, ClassLoader: cfg.loader}
	registry, excluded := cr.Filter(candidates)
	for _, ex := range excluded {
		cfg.log.Info("component excluded", "component", ex.ComponentID, "reason", ex.Reason)
	}

	scopes := NewScopeRegistry()
	for id, ctor := range scopeProviders() {
		if _, err := scopes.Get(id); err != nil {
			scopes.Register(ctor())
		}
	}
	for _, s := range cfg.extraScopes {
		scopes.Register(s)
	}

	profiles := cfg.profiles
	if len(profiles) == 0 && cfg.props != nil {
		profiles = cfg.props.ActiveProfiles()
	}

	c := &Container{
		registry:  registry,
		graph:     graph,
		scopes:    scopes,
		lifecycle: NewLifecycleProcessor(),
		diags:     diags,
		excluded:  excluded,
		profiles:  profiles,
		log:       cfg.log,
	}

	if err := c.instantiateNonLazySingletons(context.Background()); err != nil {
		return nil, err
	}
	if err := c.lifecycle.Refresh(); err != nil {
		return nil, err
	}

	return c, nil
}

// instantiateNonLazySingletons performs §4.G step 1: instantiate every
// non-lazy singleton in resolver order, running the post-processor chain
// for each (step 2-4).
func (c *Container) instantiateNonLazySingletons(ctx context.Context) error {
	for _, id := range c.graph.Order {
		idx, ok := c.registry.IndexOfComponent(id)
		if !ok {
			continue // excluded by a condition
		}
		f := c.registry.AllFactories()[idx]
		if f.ScopeID() != ScopeSingleton || f.IsLazy() {
			continue
		}
		if _, err := c.getByIndex(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// Diagnostics returns the resolver/condition diagnostics recorded at boot
// (informational deferred-cycle notices plus whatever a caller wants to
// inspect after a successful Boot).
func (c *Container) Diagnostics() *Diagnostics { return c.diags }

// Excluded returns every component a condition excluded at boot.
func (c *Container) Excluded() []Excluded { return c.excluded }

// Registry exposes the underlying indexed registry (§4.C, §4.H).
func (c *Container) Registry() Registry { return c.registry }

// RegisterScope adds or replaces a scope after boot (§6 "register_scope").
func (c *Container) RegisterScope(s Scope) { c.scopes.Register(s) }

// SetActiveProfiles replaces the container's recorded active-profile set.
// Conditions are evaluated only during Boot, against the PropertySource's
// profiles, so this call does not change registry membership.
func (c *Container) SetActiveProfiles(profiles ...string) { c.profiles = profiles }

// Shutdown drives the stop -> destroy sequence (§6).
func (c *Container) Shutdown() error {
	stopErr := c.lifecycle.Stop()
	destroyErr := c.lifecycle.Destroy()
	if scopeErr := c.scopes.DestroyAll(func(any) {}); scopeErr != nil && destroyErr == nil {
		destroyErr = scopeErr
	}
	if destroyErr != nil {
		return destroyErr
	}
	return stopErr
}

// Start runs §4.G steps 6 (smart/plain lifecycle beans, @OnStart).
func (c *Container) Start() error { return c.lifecycle.Start() }

// AddPostProcessor registers a BeanPostProcessor consulted for every bean
// constructed after this call (typically called before the first
// resolution, e.g. between Boot and the first Get).
func (c *Container) AddPostProcessor(p BeanPostProcessor) { c.lifecycle.AddPostProcessor(p) }

// AddListener subscribes to container lifecycle events.
func (c *Container) AddListener(l EventListener) { c.lifecycle.AddListener(l) }

// --- internal resolution plumbing ------------------------------------------

// getByIndex resolves the instance at index, dispatching through that
// component's scope and running post-processors/AfterPropertiesSet exactly
// once per freshly created instance (§4.G).
func (c *Container) getByIndex(ctx context.Context, index int) (any, error) {
	factories := c.registry.AllFactories()
	if index < 0 || index >= len(factories) {
		return nil, fmt.Errorf("veld: index %d out of range", index)
	}
	f := factories[index]

	scope, err := c.scopes.Get(f.ScopeID())
	if err != nil {
		return nil, err
	}

	key := f.ComponentName()
	return scope.Get(ctx, key, func() (any, error) {
		desc := c.graph.ByID(componentIDFromFactory(f))
		resolver := &containerArgResolver{c: c, ctx: ctx, plan: nil}
		if desc != nil {
			resolver.plan = c.graph.ArgPlan[desc.ID]
		}

		instance, err := f.Create(resolver)
		if err != nil {
			return nil, err
		}

		instance, err = c.lifecycle.RunInitialization(key, instance, f)
		if err != nil {
			return nil, err
		}
		return instance, nil
	})
}

// componentIDFromFactory recovers the component id a Factory was built
// from, looking through the indexOverride decorator if present.
func componentIDFromFactory(f Factory) string { return f.ComponentID() }

// containerArgResolver implements ArgResolver for one component's Create
// call, resolving each injection point per the Graph's precomputed
// ArgPlan (§4.C, §4.H).
type containerArgResolver struct {
	c    *Container
	ctx  context.Context
	plan []ArgBinding
}

func (a *containerArgResolver) Context() context.Context { return a.ctx }

func (a *containerArgResolver) Resolve(index int) (any, error) {
	if index < 0 || index >= len(a.plan) {
		return nil, fmt.Errorf("veld: injection point index %d out of range", index)
	}
	binding := a.plan[index]

	switch binding.Wrapper {
	case WrapperCollection:
		out := make([]any, 0, len(binding.ProducerIDs))
		for _, pid := range binding.ProducerIDs {
			idx, ok := a.c.registry.IndexOfComponent(pid)
			if !ok {
				continue
			}
			v, err := a.c.getByIndex(a.ctx, idx)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case WrapperOptional:
		if len(binding.ProducerIDs) == 0 {
			return nil, nil
		}
		idx, ok := a.c.registry.IndexOfComponent(binding.ProducerIDs[0])
		if !ok {
			return nil, nil
		}
		return a.c.getByIndex(a.ctx, idx)

	case WrapperProvider:
		if len(binding.ProducerIDs) == 0 {
			return AnyProvider(func() (any, error) { return nil, fmt.Errorf("veld: provider has no producer") }), nil
		}
		pid := binding.ProducerIDs[0]
		ctx := a.ctx
		c := a.c
		return AnyProvider(func() (any, error) {
			idx, ok := c.registry.IndexOfComponent(pid)
			if !ok {
				return nil, fmt.Errorf("veld: provider target %q is not registered", pid)
			}
			return c.getByIndex(ctx, idx)
		}), nil

	default: // WrapperDirect
		if len(binding.ProducerIDs) == 0 {
			return nil, fmt.Errorf("veld: unresolved required dependency")
		}
		idx, ok := a.c.registry.IndexOfComponent(binding.ProducerIDs[0])
		if !ok {
			return nil, fmt.Errorf("veld: producer %q is not registered", binding.ProducerIDs[0])
		}
		return a.c.getByIndex(a.ctx, idx)
	}
}

// --- public generic facade (§6) --------------------------------------------

// typeKey derives the fully-qualified type name a ComponentDescriptor.Type
// must match for T to be resolvable; mirrors §3's "fully-qualified class
// name" with Go's package-path-qualified type name.
func typeKey[T any]() string {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	return t.String()
}

// Get resolves a dependency by type from the container's default scope
// dispatch (§6 "get(type) -> instance").
func Get[T any](c *Container) (T, error) {
	return GetNamed[T](c, "")
}

// GetNamed resolves a named dependency (§6 "get(type, name) -> instance").
func GetNamed[T any](c *Container, name string) (T, error) {
	return getNamed[T](context.Background(), c, name)
}

// GetCtx resolves a dependency using ctx for scope dispatch (request/session
// scoped components need the id carried on ctx; see WithRequestID/
// WithSessionID).
func GetCtx[T any](ctx context.Context, c *Container) (T, error) {
	return getNamed[T](ctx, c, "")
}

func getNamed[T any](ctx context.Context, c *Container, name string) (T, error) {
	var zero T
	var idx int
	var err error
	if name != "" {
		var ok bool
		idx, ok = c.registry.IndexOf(name)
		if !ok {
			return zero, UnsatisfiedDependencyError{RequestedType: name}
		}
	} else {
		idx, err = resolveTypeIndex(c.registry, typeKey[T]())
		if err != nil {
			return zero, err
		}
	}
	v, err := c.getByIndex(ctx, idx)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		requested := name
		if requested == "" {
			requested = typeKey[T]()
		}
		return zero, &ErrInvalidFactory{Message: fmt.Sprintf("resolved value does not satisfy %s", requested)}
	}
	return typed, nil
}

// resolveTypeIndex resolves t to a registry index, implementing §3 invariant
// "primary law": an exact declared-type or name match wins outright; failing
// that, fall back to every producer implementing t as a supertype, returning
// the sole candidate, the one marked @Primary among several, or an
// AmbiguousDependencyError if neither disambiguates.
func resolveTypeIndex(r Registry, t string) (int, error) {
	if idx, ok := r.IndexOf(t); ok {
		return idx, nil
	}

	candidates := r.FactoriesForType(t)
	switch len(candidates) {
	case 0:
		return 0, UnsatisfiedDependencyError{RequestedType: t}
	case 1:
		return candidates[0].Index(), nil
	default:
		if primary, ok := r.PrimaryFactory(t); ok {
			return primary.Index(), nil
		}
		ids := make([]string, len(candidates))
		for i, f := range candidates {
			ids[i] = f.ComponentID()
		}
		return 0, AmbiguousDependencyError{
			Point:      InjectionPoint{Owner: "<direct>", RequestedType: t},
			Candidates: ids,
		}
	}
}

// GetAll resolves every producer matching T (§6 "get_all(type) ->
// list<instance>").
func GetAll[T any](c *Container) ([]T, error) {
	t := typeKey[T]()
	factories := c.registry.FactoriesForType(t)
	out := make([]T, 0, len(factories))
	for _, f := range factories {
		v, err := c.getByIndex(context.Background(), f.Index())
		if err != nil {
			return nil, err
		}
		typed, ok := v.(T)
		if !ok {
			continue
		}
		out = append(out, typed)
	}
	return out, nil
}

// GetOptional resolves T, returning an absent Optional instead of an error
// on a miss (§6 "get_optional(type) -> maybe<instance>").
func GetOptional[T any](c *Container) Optional[T] {
	v, err := Get[T](c)
	if err != nil {
		var zero Optional[T]
		return zero
	}
	return newPresent(v)
}

// GetProvider returns a Provider[T] bound to T's resolved index (§6
// "provider(type) -> provider<instance>").
func GetProvider[T any](c *Container) (Provider[T], error) {
	idx, err := resolveTypeIndex(c.registry, typeKey[T]())
	if err != nil {
		return nil, err
	}
	return providerFor[T](c, context.Background(), idx), nil
}

// Has reports whether T is registered in the post-boot registry.
func Has[T any](c *Container) bool {
	_, err := resolveTypeIndex(c.registry, typeKey[T]())
	return err == nil
}

// componentOrder returns the resolved component ids sorted by id, for
// deterministic tool output inside this package.
func (c *Container) componentOrder() []string {
	out := append([]string(nil), c.graph.Order...)
	sort.Strings(out) // stable, deterministic tool output; construction order is on c.graph.Order itself
	return out
}
