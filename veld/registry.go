package veld

import (
	"context"
	"fmt"
	"sort"
)

// This file defines §4.C, the registry emitter contract: the closed
// per-component Factory surface and the index-assigned Registry that holds
// them. The concrete per-component factory *code* (constructor/field wiring)
// is an external collaborator (§1); this package only specifies and
// indexes the contract, and ships FuncFactory as the reference
// implementation a code generator (or this repo's demo) plugs into.

// ArgResolver is handed to a Factory's Create function so it can resolve its
// own injection points by index into the same registry, honoring the
// wrapper kind computed by the resolver.
type ArgResolver interface {
	// Resolve returns the already-resolved dependency for the Nth
	// injection point of the calling factory, in the order recorded by the
	// Resolver's emission plan.
	Resolve(index int) (any, error)

	// Context returns the context.Context the current resolution is running
	// under, letting a factory read the request/session id WithRequestID or
	// WithSessionID attached for its own scoped bookkeeping.
	Context() context.Context
}

// Factory is the capability set every surviving component descriptor is
// compiled down to (§4.C).
type Factory interface {
	Create(args ArgResolver) (any, error)

	ComponentID() string
	ComponentType() string
	ComponentName() string
	ScopeID() string

	IsPrimary() bool
	IsLazy() bool
	Order() int
	DestroyOrder() int
	Qualifier() string
	ImplementedInterfaces() []string
	DependencyTypes() []string
	DestructionDependencies() []string

	// Index is assigned by the Registry at construction time and is fixed
	// for the life of the container (§3 invariant 3).
	Index() int

	InvokePostConstruct(instance any) error
	InvokePreDestroy(instance any) error

	HasConditions() bool
	CreateConditionEvaluator() *ConditionEvaluator
}

// FuncFactory is the reference Factory implementation: it wraps a plain
// creation closure plus the static metadata the resolver already computed,
// so a code-generation collaborator only needs to supply the closure.
type FuncFactory struct {
	Desc       *ComponentDescriptor
	CreateFunc func(args ArgResolver) (any, error)

	PostConstructFunc func(instance any) error
	PreDestroyFunc    func(instance any) error

	index int
}

var _ Factory = (*FuncFactory)(nil)

func (f *FuncFactory) Create(args ArgResolver) (any, error) { return f.CreateFunc(args) }

func (f *FuncFactory) ComponentID() string   { return f.Desc.ID }
func (f *FuncFactory) ComponentType() string { return f.Desc.Type }
func (f *FuncFactory) ComponentName() string {
	if f.Desc.Name != "" {
		return f.Desc.Name
	}
	return f.Desc.ID
}
func (f *FuncFactory) ScopeID() string                   { return f.Desc.ScopeID }
func (f *FuncFactory) IsPrimary() bool                   { return f.Desc.Primary }
func (f *FuncFactory) IsLazy() bool                      { return f.Desc.Lazy }
func (f *FuncFactory) Order() int                        { return f.Desc.Order }
func (f *FuncFactory) DestroyOrder() int                 { return f.Desc.DestroyOrder }
func (f *FuncFactory) Qualifier() string {
	if len(f.Desc.Qualifiers) == 0 {
		return ""
	}
	return f.Desc.Qualifiers[0]
}
func (f *FuncFactory) ImplementedInterfaces() []string   { return f.Desc.Supertypes }
func (f *FuncFactory) DependencyTypes() []string {
	types := make([]string, 0, len(f.Desc.InjectionPoints))
	for _, p := range f.Desc.InjectionPoints {
		types = append(types, p.RequestedType)
	}
	return types
}
func (f *FuncFactory) DestructionDependencies() []string { return f.Desc.DependsOn }
func (f *FuncFactory) Index() int                        { return f.index }

func (f *FuncFactory) InvokePostConstruct(instance any) error {
	if f.PostConstructFunc == nil {
		return nil
	}
	if err := f.PostConstructFunc(instance); err != nil {
		return LifecycleError{Component: f.ComponentName(), Phase: "post-construct", Cause: err}
	}
	return nil
}

func (f *FuncFactory) InvokePreDestroy(instance any) error {
	if f.PreDestroyFunc == nil {
		return nil
	}
	if err := f.PreDestroyFunc(instance); err != nil {
		return LifecycleError{Component: f.ComponentName(), Phase: "pre-destroy", Cause: err}
	}
	return nil
}

func (f *FuncFactory) HasConditions() bool { return f.Desc.HasConditions }

func (f *FuncFactory) CreateConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{Conditions: f.Desc.Conditions}
}

// Registry is the index-assigned factory catalogue §4.C specifies.
type Registry interface {
	AllFactories() []Factory
	FactoryByType(t string) (Factory, bool)
	FactoryByName(name string) (Factory, bool)
	FactoriesForType(t string) []Factory
	PrimaryFactory(t string) (Factory, bool)

	IndexOf(typeOrName string) (int, bool)
	IndexOfComponent(id string) (int, bool)
	Create(index int, args ArgResolver) (any, error)
	ScopeIDAt(index int) string
	IsLazyAt(index int) bool
	IndicesForType(t string) []int
	InvokePostConstructAt(index int, instance any) error
	InvokePreDestroyAt(index int, instance any) error
	Len() int
}

// indexedRegistry is the concrete Registry: a dense, contiguous, immutable
// array of factories plus precomputed lookup maps (§4.C "emission
// constraints"). Build it once after conditional filtering (§4.E);
// afterward it is read-only and safe for concurrent readers without
// synchronization (§5 "shared-resource policy").
type indexedRegistry struct {
	factories []Factory

	byExactType map[string]int   // identity-hashed in the source design; a Go map already gives O(1) amortized lookup
	bySuperType map[string][]int // precomputed multimap
	byName      map[string]int
	byComponentID map[string]int
	byQualifier map[string][]int
}

var _ Registry = (*indexedRegistry)(nil)

// BuildRegistry assigns a fresh contiguous [0, N) index space to factories,
// in the order given, and builds its lookup tables. Callers (the
// conditional registry, or a test building one directly) must pass
// factories already in their final, filtered form.
func BuildRegistry(factories []Factory) Registry {
	reg := &indexedRegistry{
		factories:   make([]Factory, len(factories)),
		byExactType:   make(map[string]int, len(factories)),
		bySuperType:   make(map[string][]int),
		byName:        make(map[string]int, len(factories)),
		byComponentID: make(map[string]int, len(factories)),
		byQualifier:   make(map[string][]int),
	}

	for i, f := range factories {
		indexed := withIndex(f, i)
		reg.factories[i] = indexed

		if _, exists := reg.byExactType[indexed.ComponentType()]; !exists {
			reg.byExactType[indexed.ComponentType()] = i
		}
		reg.bySuperType[indexed.ComponentType()] = append(reg.bySuperType[indexed.ComponentType()], i)
		for _, st := range indexed.ImplementedInterfaces() {
			reg.bySuperType[st] = append(reg.bySuperType[st], i)
		}
		reg.byName[indexed.ComponentName()] = i
		reg.byComponentID[indexed.ComponentID()] = i
		if q := indexed.Qualifier(); q != "" {
			reg.byQualifier[q] = append(reg.byQualifier[q], i)
		}
	}

	return reg
}

// withIndex returns a Factory that reports idx from Index(), wrapping
// FuncFactory in place and falling back to a thin decorator for any other
// Factory implementation.
func withIndex(f Factory, idx int) Factory {
	if ff, ok := f.(*FuncFactory); ok {
		ff.index = idx
		return ff
	}
	return &indexOverride{Factory: f, idx: idx}
}

type indexOverride struct {
	Factory
	idx int
}

func (o *indexOverride) Index() int { return o.idx }

func (r *indexedRegistry) AllFactories() []Factory { return r.factories }

func (r *indexedRegistry) FactoryByType(t string) (Factory, bool) {
	i, ok := r.byExactType[t]
	if !ok {
		return nil, false
	}
	return r.factories[i], true
}

func (r *indexedRegistry) FactoryByName(name string) (Factory, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.factories[i], true
}

func (r *indexedRegistry) FactoriesForType(t string) []Factory {
	indices := r.bySuperType[t]
	out := make([]Factory, len(indices))
	for i, idx := range indices {
		out[i] = r.factories[idx]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order() != out[j].Order() {
			return out[i].Order() < out[j].Order()
		}
		return out[i].Index() < out[j].Index()
	})
	return out
}

func (r *indexedRegistry) PrimaryFactory(t string) (Factory, bool) {
	for _, f := range r.FactoriesForType(t) {
		if f.IsPrimary() {
			return f, true
		}
	}
	return nil, false
}

func (r *indexedRegistry) IndexOf(typeOrName string) (int, bool) {
	if i, ok := r.byExactType[typeOrName]; ok {
		return i, true
	}
	if i, ok := r.byName[typeOrName]; ok {
		return i, true
	}
	return 0, false
}

func (r *indexedRegistry) IndexOfComponent(id string) (int, bool) {
	i, ok := r.byComponentID[id]
	return i, ok
}

func (r *indexedRegistry) Create(index int, args ArgResolver) (any, error) {
	if index < 0 || index >= len(r.factories) {
		return nil, fmt.Errorf("veld: index %d out of range [0,%d)", index, len(r.factories))
	}
	return r.factories[index].Create(args)
}

func (r *indexedRegistry) ScopeIDAt(index int) string { return r.factories[index].ScopeID() }
func (r *indexedRegistry) IsLazyAt(index int) bool    { return r.factories[index].IsLazy() }

func (r *indexedRegistry) IndicesForType(t string) []int {
	out := append([]int(nil), r.bySuperType[t]...)
	sort.Ints(out)
	return out
}

func (r *indexedRegistry) InvokePostConstructAt(index int, instance any) error {
	return r.factories[index].InvokePostConstruct(instance)
}

func (r *indexedRegistry) InvokePreDestroyAt(index int, instance any) error {
	return r.factories[index].InvokePreDestroy(instance)
}

func (r *indexedRegistry) Len() int { return len(r.factories) }
