package veld

import "sort"

// This file implements §4.G, the lifecycle processor: post-construct/
// pre-destroy ordering, bean post-processors, and the refresh/start/stop/
// destroy phase sequence. Grounded on the toutago-nasc Initializable/
// Disposable capability pair (other_examples) generalized into the fuller
// Spring-style lifecycle the spec calls for (smart lifecycle phases,
// ordered callbacks, lifecycle events).

// BeanPostProcessor runs before and after a bean's own initialization
// (§4.G step 2). A non-nil return from either hook replaces the bean for
// subsequent processors and for registration.
type BeanPostProcessor interface {
	BeforeInit(bean any, name string) (any, error)
	AfterInit(bean any, name string) (any, error)
	Order() int
}

// InitializingBean lets a bean run logic right after its dependencies are
// set, before post-construct callbacks (§4.G step 3).
type InitializingBean interface {
	AfterPropertiesSet() error
}

// DisposableBean lets a bean run teardown logic during destroy, independent
// of any @PreDestroy-annotated method captured by the factory (§4.C
// InvokePreDestroy already covers the annotated form; this interface covers
// the explicit-capability form some components prefer).
type DisposableBean interface {
	DestroyBean() error
}

// Lifecycle marks a bean with plain start/stop hooks (§4.G step 6-7,
// "plain lifecycle beans").
type Lifecycle interface {
	Start() error
	Stop() error
}

// SmartLifecycle adds phase ordering and auto-start opt-out to Lifecycle
// ("smart-lifecycle beans (phase integer, auto-start)", §3).
type SmartLifecycle interface {
	Lifecycle
	Phase() int
	IsAutoStartup() bool
}

// orderedCallback is one @PostInitialize/@OnStart/@OnStop entry.
type orderedCallback struct {
	name  string
	order int
	fn    func() error
}

// EventKind enumerates the lifecycle events the processor publishes
// (§4.G steps 5-8).
type EventKind int

const (
	EventContextRefreshed EventKind = iota
	EventContextStarted
	EventContextStopped
	EventContextClosed
)

func (k EventKind) String() string {
	switch k {
	case EventContextStarted:
		return "ContextStarted"
	case EventContextStopped:
		return "ContextStopped"
	case EventContextClosed:
		return "ContextClosed"
	default:
		return "ContextRefreshed"
	}
}

// EventListener receives lifecycle events as the container moves through
// its phases.
type EventListener func(EventKind)

// lifecycleBean bundles one registered instance with everything the
// processor needs to drive it through the boot sequence.
type lifecycleBean struct {
	name     string
	instance any
	factory  Factory
}

// LifecycleProcessor drives the boot sequence in §4.G. Phases are strictly
// sequential at the container level (§5): refresh -> start -> stop ->
// destroy.
type LifecycleProcessor struct {
	postProcessors []BeanPostProcessor

	beans   []lifecycleBean // registration order; destroy follows destroyOrder
	started bool

	postInit []orderedCallback
	onStart  []orderedCallback
	onStop   []orderedCallback

	listeners []EventListener
}

// NewLifecycleProcessor constructs an empty processor.
func NewLifecycleProcessor() *LifecycleProcessor {
	return &LifecycleProcessor{}
}

// AddPostProcessor registers a BeanPostProcessor; order is established at
// RunInitialization time.
func (lp *LifecycleProcessor) AddPostProcessor(p BeanPostProcessor) {
	lp.postProcessors = append(lp.postProcessors, p)
}

// AddPostInitialize registers an @PostInitialize-equivalent callback.
func (lp *LifecycleProcessor) AddPostInitialize(name string, order int, fn func() error) {
	lp.postInit = append(lp.postInit, orderedCallback{name: name, order: order, fn: fn})
}

// AddOnStart registers an @OnStart-equivalent callback.
func (lp *LifecycleProcessor) AddOnStart(name string, order int, fn func() error) {
	lp.onStart = append(lp.onStart, orderedCallback{name: name, order: order, fn: fn})
}

// AddOnStop registers an @OnStop-equivalent callback.
func (lp *LifecycleProcessor) AddOnStop(name string, order int, fn func() error) {
	lp.onStop = append(lp.onStop, orderedCallback{name: name, order: order, fn: fn})
}

// AddListener subscribes to lifecycle events.
func (lp *LifecycleProcessor) AddListener(l EventListener) {
	lp.listeners = append(lp.listeners, l)
}

func (lp *LifecycleProcessor) publish(kind EventKind) {
	for _, l := range lp.listeners {
		l(kind)
	}
}

// RunInitialization runs the post-processor chain, AfterPropertiesSet and
// the factory's post-construct hook for one freshly constructed bean, then
// records it for later destroy/start/stop handling (§4.G steps 2-4). It
// returns the (possibly replaced) bean.
func (lp *LifecycleProcessor) RunInitialization(name string, bean any, factory Factory) (any, error) {
	ordered := append([]BeanPostProcessor(nil), lp.postProcessors...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order() < ordered[j].Order() })

	current := bean
	for _, p := range ordered {
		next, err := p.BeforeInit(current, name)
		if err != nil {
			return nil, LifecycleError{Component: name, Phase: "before-init", Cause: err}
		}
		if next != nil {
			current = next
		}
	}

	if ib, ok := current.(InitializingBean); ok {
		if err := ib.AfterPropertiesSet(); err != nil {
			return nil, LifecycleError{Component: name, Phase: "after-properties-set", Cause: err}
		}
	}

	if factory != nil {
		if err := factory.InvokePostConstruct(current); err != nil {
			return nil, err
		}
	}

	for _, p := range ordered {
		next, err := p.AfterInit(current, name)
		if err != nil {
			return nil, LifecycleError{Component: name, Phase: "after-init", Cause: err}
		}
		if next != nil {
			current = next
		}
	}

	lp.beans = append(lp.beans, lifecycleBean{name: name, instance: current, factory: factory})
	return current, nil
}

// Refresh invokes every @PostInitialize callback in ascending order and
// publishes ContextRefreshed (§4.G step 5).
func (lp *LifecycleProcessor) Refresh() error {
	if err := runOrdered(lp.postInit, "post-initialize"); err != nil {
		return err
	}
	lp.publish(EventContextRefreshed)
	return nil
}

// Start starts smart-lifecycle beans in ascending phase, then plain
// lifecycle beans, then @OnStart callbacks in ascending order, and
// publishes ContextStarted (§4.G step 6).
func (lp *LifecycleProcessor) Start() error {
	var smart []lifecycleBean
	var plain []lifecycleBean
	for _, b := range lp.beans {
		switch v := b.instance.(type) {
		case SmartLifecycle:
			if v.IsAutoStartup() {
				smart = append(smart, b)
			}
		case Lifecycle:
			plain = append(plain, b)
		}
	}
	sort.SliceStable(smart, func(i, j int) bool {
		return smart[i].instance.(SmartLifecycle).Phase() < smart[j].instance.(SmartLifecycle).Phase()
	})

	for _, b := range smart {
		if err := b.instance.(SmartLifecycle).Start(); err != nil {
			return LifecycleError{Component: b.name, Phase: "start", Cause: err}
		}
	}
	for _, b := range plain {
		if err := b.instance.(Lifecycle).Start(); err != nil {
			return LifecycleError{Component: b.name, Phase: "start", Cause: err}
		}
	}
	if err := runOrdered(lp.onStart, "on-start"); err != nil {
		return err
	}
	lp.started = true
	lp.publish(EventContextStarted)
	return nil
}

// Stop invokes @OnStop callbacks in descending order, stops smart-lifecycle
// beans in descending phase, then plain lifecycle beans, and publishes
// ContextStopped (§4.G step 7). Failures do not interrupt the sequence
// (best-effort teardown): Stop keeps going and returns only the last error
// encountered.
func (lp *LifecycleProcessor) Stop() error {
	var lastErr error

	for i := len(lp.onStop) - 1; i >= 0; i-- {
		cb := lp.onStop[i]
		if err := cb.fn(); err != nil {
			lastErr = LifecycleError{Component: cb.name, Phase: "on-stop", Cause: err}
		}
	}

	var smart []lifecycleBean
	var plain []lifecycleBean
	for _, b := range lp.beans {
		switch v := b.instance.(type) {
		case SmartLifecycle:
			if v.IsAutoStartup() {
				smart = append(smart, b)
			}
		case Lifecycle:
			plain = append(plain, b)
		}
	}
	sort.SliceStable(smart, func(i, j int) bool {
		return smart[i].instance.(SmartLifecycle).Phase() > smart[j].instance.(SmartLifecycle).Phase()
	})

	for _, b := range smart {
		if err := b.instance.(SmartLifecycle).Stop(); err != nil {
			lastErr = LifecycleError{Component: b.name, Phase: "stop", Cause: err}
		}
	}
	for _, b := range plain {
		if err := b.instance.(Lifecycle).Stop(); err != nil {
			lastErr = LifecycleError{Component: b.name, Phase: "stop", Cause: err}
		}
	}

	lp.started = false
	lp.publish(EventContextStopped)
	return lastErr
}

// destroyEntry pairs a registered bean with the key destroyOrder sorts by:
// ascending Factory.DestroyOrder(), reverse registration index as tiebreak
// (§3 invariant 5).
type destroyEntry struct {
	bean  lifecycleBean
	order int
	index int
}

// destroyOrder computes the bean teardown sequence: ascending DestroyOrder,
// with beans sharing the same DestroyOrder (the common case, since it
// defaults to zero) falling back to reverse registration order.
func destroyOrder(beans []lifecycleBean) []lifecycleBean {
	entries := make([]destroyEntry, len(beans))
	for i, b := range beans {
		order := 0
		if b.factory != nil {
			order = b.factory.DestroyOrder()
		}
		entries[i] = destroyEntry{bean: b, order: order, index: i}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].order != entries[j].order {
			return entries[i].order < entries[j].order
		}
		return entries[i].index > entries[j].index
	})
	out := make([]lifecycleBean, len(entries))
	for i, e := range entries {
		out[i] = e.bean
	}
	return out
}

// Destroy stops if running, invokes pre-destroy on every bean in destroy
// order (ascending DestroyOrder, reverse registration order as tiebreak),
// and publishes ContextClosed (§4.G step 8). Like Stop, it is best-effort: it
// keeps going past individual failures.
func (lp *LifecycleProcessor) Destroy() error {
	var lastErr error
	if lp.started {
		if err := lp.Stop(); err != nil {
			lastErr = err
		}
	}

	for _, b := range destroyOrder(lp.beans) {
		if b.factory == nil {
			continue
		}
		if err := b.factory.InvokePreDestroy(b.instance); err != nil {
			lastErr = err
		}
		if db, ok := b.instance.(DisposableBean); ok {
			if err := db.DestroyBean(); err != nil {
				lastErr = LifecycleError{Component: b.name, Phase: "destroy-bean", Cause: err}
			}
		}
	}

	lp.publish(EventContextClosed)
	return lastErr
}

func runOrdered(cbs []orderedCallback, phase string) error {
	ordered := append([]orderedCallback(nil), cbs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })
	for _, cb := range ordered {
		if err := cb.fn(); err != nil {
			return LifecycleError{Component: cb.name, Phase: phase, Cause: err}
		}
	}
	return nil
}
