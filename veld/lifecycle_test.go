package veld_test

import (
	"testing"

	"github.com/veldframework/veld/veld"
)

type recordingPostProcessor struct {
	order      int
	beforeTag  string
	afterTag   string
	beforeErr  error
	afterErr   error
	calls      *[]string
}

func (p *recordingPostProcessor) Order() int { return p.order }

func (p *recordingPostProcessor) BeforeInit(bean any, name string) (any, error) {
	*p.calls = append(*p.calls, "before:"+p.beforeTag+":"+name)
	if p.beforeErr != nil {
		return nil, p.beforeErr
	}
	return bean, nil
}

func (p *recordingPostProcessor) AfterInit(bean any, name string) (any, error) {
	*p.calls = append(*p.calls, "after:"+p.afterTag+":"+name)
	if p.afterErr != nil {
		return nil, p.afterErr
	}
	return bean, nil
}

func TestLifecycleProcessor_PostProcessorsRunInOrderRoundBean(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	var calls []string
	lp.AddPostProcessor(&recordingPostProcessor{order: 2, beforeTag: "b", afterTag: "b", calls: &calls})
	lp.AddPostProcessor(&recordingPostProcessor{order: 1, beforeTag: "a", afterTag: "a", calls: &calls})

	_, err := lp.RunInitialization("bean", "instance", nil)
	if err != nil {
		t.Fatalf("RunInitialization failed: %v", err)
	}

	want := []string{"before:a:bean", "before:b:bean", "after:a:bean", "after:b:bean"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	}
}

type initializingBean struct {
	ranInit bool
	failErr error
}

func (b *initializingBean) AfterPropertiesSet() error {
	b.ranInit = true
	return b.failErr
}

func TestLifecycleProcessor_RunInitializationCallsAfterPropertiesSet(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	bean := &initializingBean{}
	if _, err := lp.RunInitialization("bean", bean, nil); err != nil {
		t.Fatalf("RunInitialization failed: %v", err)
	}
	if !bean.ranInit {
		t.Fatal("expected AfterPropertiesSet to run")
	}
}

func TestLifecycleProcessor_BeforeInitErrorWrapsAsLifecycleError(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	var calls []string
	lp.AddPostProcessor(&recordingPostProcessor{beforeErr: errBoom, calls: &calls})

	_, err := lp.RunInitialization("bean", "x", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	le, ok := err.(veld.LifecycleError)
	if !ok || le.Phase != "before-init" {
		t.Fatalf("expected a before-init LifecycleError, got %v", err)
	}
}

type phasedLifecycle struct {
	name        string
	phase       int
	autoStart   bool
	startErr    error
	stopErr     error
	startedLog  *[]string
	stoppedLog  *[]string
}

func (p *phasedLifecycle) Start() error {
	*p.startedLog = append(*p.startedLog, p.name)
	return p.startErr
}
func (p *phasedLifecycle) Stop() error {
	*p.stoppedLog = append(*p.stoppedLog, p.name)
	return p.stopErr
}
func (p *phasedLifecycle) Phase() int          { return p.phase }
func (p *phasedLifecycle) IsAutoStartup() bool { return p.autoStart }

func TestLifecycleProcessor_StartOrdersSmartLifecycleByPhaseAscending(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	var started, stopped []string

	late := &phasedLifecycle{name: "late", phase: 10, autoStart: true, startedLog: &started, stoppedLog: &stopped}
	early := &phasedLifecycle{name: "early", phase: 1, autoStart: true, startedLog: &started, stoppedLog: &stopped}

	if _, err := lp.RunInitialization("late", late, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := lp.RunInitialization("early", early, nil); err != nil {
		t.Fatal(err)
	}

	if err := lp.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(started) != 2 || started[0] != "early" || started[1] != "late" {
		t.Fatalf("expected ascending phase order [early late], got %v", started)
	}

	if err := lp.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(stopped) != 2 || stopped[0] != "late" || stopped[1] != "early" {
		t.Fatalf("expected descending phase order [late early] on stop, got %v", stopped)
	}
}

func TestLifecycleProcessor_StopIsBestEffortAndKeepsGoing(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	var started, stopped []string

	a := &phasedLifecycle{name: "a", phase: 1, autoStart: true, startedLog: &started, stoppedLog: &stopped}
	b := &phasedLifecycle{name: "b", phase: 2, autoStart: true, stopErr: errBoom, startedLog: &started, stoppedLog: &stopped}

	if _, err := lp.RunInitialization("a", a, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := lp.RunInitialization("b", b, nil); err != nil {
		t.Fatal(err)
	}
	if err := lp.Start(); err != nil {
		t.Fatal(err)
	}

	err := lp.Stop()
	if err == nil {
		t.Fatal("expected the swallowed stop error to surface as the last error")
	}
	if len(stopped) != 2 {
		t.Fatalf("expected Stop to keep going past b's failure (phase 2 stops first) and still stop a, got %v", stopped)
	}
}

type destroyOnlyFactory struct {
	preDestroyErr error
	called        *[]string
	name          string
	destroyOrder  int
}

func (f *destroyOnlyFactory) Create(veld.ArgResolver) (any, error)     { return nil, nil }
func (f *destroyOnlyFactory) ComponentID() string                     { return f.name }
func (f *destroyOnlyFactory) ComponentType() string                   { return f.name }
func (f *destroyOnlyFactory) ComponentName() string                   { return f.name }
func (f *destroyOnlyFactory) ScopeID() string                         { return veld.ScopeSingleton }
func (f *destroyOnlyFactory) IsPrimary() bool                         { return false }
func (f *destroyOnlyFactory) IsLazy() bool                            { return false }
func (f *destroyOnlyFactory) Order() int                              { return 0 }
func (f *destroyOnlyFactory) DestroyOrder() int                       { return f.destroyOrder }
func (f *destroyOnlyFactory) Qualifier() string                       { return "" }
func (f *destroyOnlyFactory) ImplementedInterfaces() []string         { return nil }
func (f *destroyOnlyFactory) DependencyTypes() []string               { return nil }
func (f *destroyOnlyFactory) DestructionDependencies() []string       { return nil }
func (f *destroyOnlyFactory) Index() int                              { return 0 }
func (f *destroyOnlyFactory) InvokePostConstruct(any) error           { return nil }
func (f *destroyOnlyFactory) InvokePreDestroy(any) error {
	*f.called = append(*f.called, f.name)
	return f.preDestroyErr
}
func (f *destroyOnlyFactory) HasConditions() bool                               { return false }
func (f *destroyOnlyFactory) CreateConditionEvaluator() *veld.ConditionEvaluator { return &veld.ConditionEvaluator{} }

func TestLifecycleProcessor_DestroyRunsPreDestroyInReverseOrderBestEffort(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	var called []string

	fa := &destroyOnlyFactory{name: "a", called: &called, preDestroyErr: errBoom}
	fb := &destroyOnlyFactory{name: "b", called: &called}

	if _, err := lp.RunInitialization("a", "inst-a", fa); err != nil {
		t.Fatal(err)
	}
	if _, err := lp.RunInitialization("b", "inst-b", fb); err != nil {
		t.Fatal(err)
	}

	err := lp.Destroy()
	if err == nil {
		t.Fatal("expected the swallowed pre-destroy error from a to surface")
	}
	if len(called) != 2 || called[0] != "b" || called[1] != "a" {
		t.Fatalf("expected reverse registration order [b a], got %v", called)
	}
}

func TestLifecycleProcessor_DestroyHonorsExplicitDestroyOrder(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	var called []string

	// Registered a, b, c in that order; DestroyOrder should override the
	// plain reverse-registration sequence wherever it's explicitly set.
	fa := &destroyOnlyFactory{name: "a", called: &called, destroyOrder: 10}
	fb := &destroyOnlyFactory{name: "b", called: &called, destroyOrder: 0}
	fc := &destroyOnlyFactory{name: "c", called: &called, destroyOrder: 5}

	if _, err := lp.RunInitialization("a", "inst-a", fa); err != nil {
		t.Fatal(err)
	}
	if _, err := lp.RunInitialization("b", "inst-b", fb); err != nil {
		t.Fatal(err)
	}
	if _, err := lp.RunInitialization("c", "inst-c", fc); err != nil {
		t.Fatal(err)
	}

	if err := lp.Destroy(); err != nil {
		t.Fatalf("expected a clean destroy, got %v", err)
	}
	want := []string{"b", "c", "a"}
	if len(called) != len(want) {
		t.Fatalf("expected %v, got %v", want, called)
	}
	for i := range want {
		if called[i] != want[i] {
			t.Fatalf("expected ascending DestroyOrder [b c a], got %v", called)
		}
	}
}

func TestLifecycleProcessor_DestroyTiesBreakOnReverseRegistrationOrder(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	var called []string

	// All three share the default DestroyOrder of 0, so destruction must
	// fall back to reverse registration order exactly as before.
	fa := &destroyOnlyFactory{name: "a", called: &called}
	fb := &destroyOnlyFactory{name: "b", called: &called}
	fc := &destroyOnlyFactory{name: "c", called: &called}

	if _, err := lp.RunInitialization("a", "inst-a", fa); err != nil {
		t.Fatal(err)
	}
	if _, err := lp.RunInitialization("b", "inst-b", fb); err != nil {
		t.Fatal(err)
	}
	if _, err := lp.RunInitialization("c", "inst-c", fc); err != nil {
		t.Fatal(err)
	}

	if err := lp.Destroy(); err != nil {
		t.Fatalf("expected a clean destroy, got %v", err)
	}
	want := []string{"c", "b", "a"}
	if len(called) != len(want) {
		t.Fatalf("expected %v, got %v", want, called)
	}
	for i := range want {
		if called[i] != want[i] {
			t.Fatalf("expected reverse registration order [c b a], got %v", called)
		}
	}
}

func TestLifecycleProcessor_RefreshPublishesContextRefreshed(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	var events []veld.EventKind
	lp.AddListener(func(k veld.EventKind) { events = append(events, k) })

	if err := lp.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(events) != 1 || events[0] != veld.EventContextRefreshed {
		t.Fatalf("expected a single ContextRefreshed event, got %v", events)
	}
}

func TestLifecycleProcessor_PostInitializeRunsInAscendingOrder(t *testing.T) {
	lp := veld.NewLifecycleProcessor()
	var order []string
	lp.AddPostInitialize("second", 2, func() error { order = append(order, "second"); return nil })
	lp.AddPostInitialize("first", 1, func() error { order = append(order, "first"); return nil })

	if err := lp.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected ascending order [first second], got %v", order)
	}
}
