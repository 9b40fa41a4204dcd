package veld_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veldframework/veld/veld"
)

func TestSingletonScope_CreatesOnlyOnce(t *testing.T) {
	s := veld.NewSingletonScope()
	var calls int32
	factory := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return "instance", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.Get(context.Background(), "svc", factory)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected factory called exactly once, got %d", calls)
	}
	for _, r := range results {
		if r != "instance" {
			t.Fatalf("expected every caller to see the same instance, got %v", r)
		}
	}
}

func TestSingletonScope_DestroyReversesOrder(t *testing.T) {
	s := veld.NewSingletonScope()
	mk := func(name string) func() (any, error) {
		return func() (any, error) { return name, nil }
	}
	if _, err := s.Get(context.Background(), "a", mk("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), "b", mk("b")); err != nil {
		t.Fatal(err)
	}

	var destroyed []string
	if err := s.Destroy(func(v any) { destroyed = append(destroyed, v.(string)) }); err != nil {
		t.Fatal(err)
	}
	if len(destroyed) != 2 || destroyed[0] != "b" || destroyed[1] != "a" {
		t.Fatalf("expected reverse insertion order [b a], got %v", destroyed)
	}
}

func TestPrototypeScope_AlwaysFresh(t *testing.T) {
	p := veld.NewPrototypeScope()
	var calls int
	factory := func() (any, error) { calls++; return calls, nil }

	v1, _ := p.Get(context.Background(), "x", factory)
	v2, _ := p.Get(context.Background(), "x", factory)
	if v1 == v2 {
		t.Fatalf("expected distinct instances per call, got %v and %v", v1, v2)
	}
	if err := p.Destroy(func(any) {}); err != nil {
		t.Fatalf("prototype destroy should be a no-op, got %v", err)
	}
}

func TestRequestScope_RequiresContext(t *testing.T) {
	r := veld.NewRequestScope(0, 0)
	_, err := r.Get(context.Background(), "x", func() (any, error) { return 1, nil })
	if _, ok := err.(veld.NoRequestContextError); !ok {
		t.Fatalf("expected NoRequestContextError, got %v", err)
	}
}

func TestRequestScope_CachesPerRequestAndEndsCleanly(t *testing.T) {
	r := veld.NewRequestScope(0, 0)
	ctx := veld.WithRequestID(context.Background(), "req-1")

	var calls int
	factory := func() (any, error) { calls++; return "v", nil }

	if _, err := r.Get(ctx, "bean", factory); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, "bean", factory); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected the second Get within the same request to hit the cache, got %d calls", calls)
	}

	var destroyed []string
	r.EndRequest("req-1", func(v any) { destroyed = append(destroyed, v.(string)) })
	if len(destroyed) != 1 || destroyed[0] != "v" {
		t.Fatalf("expected EndRequest to tear down the bucket, got %v", destroyed)
	}

	// A fresh Get after EndRequest must re-create, since the bucket is gone.
	if _, err := r.Get(ctx, "bean", factory); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected a fresh bucket to re-invoke the factory, got %d calls", calls)
	}
}

func TestRequestScope_BeanLimitExceeded(t *testing.T) {
	r := veld.NewRequestScope(1, 0)
	ctx := veld.WithRequestID(context.Background(), "req-1")

	if _, err := r.Get(ctx, "a", func() (any, error) { return "a", nil }); err != nil {
		t.Fatal(err)
	}
	_, err := r.Get(ctx, "b", func() (any, error) { return "b", nil })
	if _, ok := err.(veld.ScopeBeanLimitExceededError); !ok {
		t.Fatalf("expected ScopeBeanLimitExceededError, got %v", err)
	}
}

func TestRequestScope_ActiveCapExceeded(t *testing.T) {
	r := veld.NewRequestScope(0, 1)
	ctx1 := veld.WithRequestID(context.Background(), "req-1")
	ctx2 := veld.WithRequestID(context.Background(), "req-2")

	if _, err := r.Get(ctx1, "a", func() (any, error) { return "a", nil }); err != nil {
		t.Fatal(err)
	}
	_, err := r.Get(ctx2, "a", func() (any, error) { return "a", nil })
	if _, ok := err.(veld.ScopeBeanLimitExceededError); !ok {
		t.Fatalf("expected ScopeBeanLimitExceededError for exceeding active request cap, got %v", err)
	}
}

func TestSessionScope_RequiresContext(t *testing.T) {
	s := veld.NewSessionScope(0, 0, 0)
	_, err := s.Get(context.Background(), "x", func() (any, error) { return 1, nil })
	if _, ok := err.(veld.NoSessionContextError); !ok {
		t.Fatalf("expected NoSessionContextError, got %v", err)
	}
}

func TestSessionScope_ExpiresAfterTimeout(t *testing.T) {
	s := veld.NewSessionScope(10*time.Millisecond, 0, 0)
	ctx := veld.WithSessionID(context.Background(), "sess-1")

	if _, err := s.Get(ctx, "bean", func() (any, error) { return "v", nil }); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	var calls int
	_, err := s.Get(ctx, "bean", func() (any, error) { calls++; return "v2", nil })
	if _, ok := err.(veld.SessionExpiredError); !ok {
		t.Fatalf("expected SessionExpiredError for an access after the inactivity timeout, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected the expired access not to invoke the factory, got %d calls", calls)
	}

	ctx2 := veld.WithSessionID(context.Background(), "sess-2")
	if _, err := s.Get(ctx2, "bean", func() (any, error) { calls++; return "v3", nil }); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected a new session to construct the bean afresh, got %d calls", calls)
	}
}

func TestSessionScope_ExpireSessionTearsDownInReverseOrder(t *testing.T) {
	s := veld.NewSessionScope(0, 0, 0)
	ctx := veld.WithSessionID(context.Background(), "sess-1")

	mk := func(name string) func() (any, error) { return func() (any, error) { return name, nil } }
	if _, err := s.Get(ctx, "a", mk("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "b", mk("b")); err != nil {
		t.Fatal(err)
	}

	var destroyed []string
	s.ExpireSession("sess-1", func(v any) { destroyed = append(destroyed, v.(string)) })
	if len(destroyed) != 2 || destroyed[0] != "b" || destroyed[1] != "a" {
		t.Fatalf("expected reverse insertion order [b a], got %v", destroyed)
	}
}

func TestScopeRegistry_NoSuchScope(t *testing.T) {
	r := veld.NewScopeRegistry()
	_, err := r.Get("bogus")
	if _, ok := err.(veld.NoSuchScopeError); !ok {
		t.Fatalf("expected NoSuchScopeError, got %v", err)
	}
}

func TestScopeRegistry_DestroyAllRunsSingletonLast(t *testing.T) {
	r := veld.NewScopeRegistry()
	singleton, err := r.Get(veld.ScopeSingleton)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := singleton.Get(context.Background(), "svc", func() (any, error) { return "singleton-instance", nil }); err != nil {
		t.Fatal(err)
	}

	r.Register(&orderRecordingScope{id: "custom"})
	custom, _ := r.Get("custom")
	if _, err := custom.Get(context.Background(), "x", func() (any, error) { return "custom-instance", nil }); err != nil {
		t.Fatal(err)
	}

	var torn []string
	if err := r.DestroyAll(func(v any) { torn = append(torn, v.(string)) }); err != nil {
		t.Fatal(err)
	}
	if len(torn) != 2 {
		t.Fatalf("expected both scopes to tear down, got %v", torn)
	}
	if torn[len(torn)-1] != "singleton-instance" {
		t.Fatalf("expected singleton to be destroyed last, got order %v", torn)
	}
}

// orderRecordingScope is a minimal custom Scope used to exercise the SPI
// surface and DestroyAll's non-singleton scopes.
type orderRecordingScope struct {
	id    string
	mu    sync.Mutex
	cache map[string]any
	order []string
}

func (o *orderRecordingScope) ID() string          { return o.id }
func (o *orderRecordingScope) DisplayName() string { return o.id }

func (o *orderRecordingScope) Get(_ context.Context, name string, factory veld.Factory0) (any, error) {
	o.mu.Lock()
	if o.cache == nil {
		o.cache = make(map[string]any)
	}
	if v, ok := o.cache[name]; ok {
		o.mu.Unlock()
		return v, nil
	}
	o.mu.Unlock()

	v, err := factory()
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.cache[name] = v
	o.order = append(o.order, name)
	o.mu.Unlock()
	return v, nil
}

func (o *orderRecordingScope) Remove(_ context.Context, name string) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.cache[name]
	return v, ok
}

func (o *orderRecordingScope) Destroy(preDestroy func(any)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.order) - 1; i >= 0; i-- {
		if v, ok := o.cache[o.order[i]]; ok && preDestroy != nil {
			preDestroy(v)
		}
	}
	return nil
}

func (o *orderRecordingScope) IsActive(context.Context) bool { return true }

func TestRegisterScopeProvider_BootPicksUpSPIScopes(t *testing.T) {
	veld.RegisterScopeProvider("custom-spi-test", func() veld.Scope {
		return &orderRecordingScope{id: "custom-spi-test"}
	})

	ir := &veld.AnnotationIR{Components: []*veld.ComponentDescriptor{
		desc("svc", "Service"),
	}}
	factories := map[string]veld.Factory{
		"svc": factoryFor("svc", "Service", func(f *veld.FuncFactory) { f.Desc.ScopeID = "custom-spi-test" }),
	}

	c, err := veld.Boot(ir, factories)
	if err != nil {
		t.Fatalf("expected Boot to discover the SPI-registered scope and succeed, got: %v", err)
	}

	v, err := veld.GetNamed[any](c, "svc")
	if err != nil {
		t.Fatalf("expected resolution through the SPI-registered scope to succeed, got: %v", err)
	}
	if _, ok := v.(struct{ id string }); !ok {
		t.Fatalf("expected the factory's own struct value back, got %T", v)
	}
}
