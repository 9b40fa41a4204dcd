package veld_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/veldframework/veld/veld"
)

type demoConfig struct{ Name string }

type demoService struct {
	cfg     *demoConfig
	started bool
}

func (s *demoService) AfterPropertiesSet() error { s.started = true; return nil }

type demoRequestScoped struct{ ID string }

func testTypeName[T any]() string {
	var zero T
	return reflect.TypeOf(&zero).Elem().String()
}

type stubProps map[string]string

func (p stubProps) Get(name string) (string, bool) { v, ok := p[name]; return v, ok }
func (p stubProps) Has(name string) bool            { _, ok := p[name]; return ok }
func (p stubProps) ActiveProfiles() []string         { return nil }

func buildDemoIR() (*veld.AnnotationIR, map[string]veld.Factory) {
	cfgType := testTypeName[*demoConfig]()
	svcType := testTypeName[*demoService]()
	reqType := testTypeName[*demoRequestScoped]()

	cfgDesc := &veld.ComponentDescriptor{ID: "cfg", Type: cfgType, ScopeID: veld.ScopeSingleton}
	svcDesc := &veld.ComponentDescriptor{
		ID: "svc", Type: svcType, ScopeID: veld.ScopeSingleton,
		InjectionPoints: []veld.InjectionPoint{
			{Owner: "svc", RequestedType: cfgType, Required: true, Wrapper: veld.WrapperDirect},
		},
	}
	excludedDesc := &veld.ComponentDescriptor{
		ID: "excluded", Type: "excludedType", ScopeID: veld.ScopeSingleton,
		HasConditions: true,
		Conditions: []veld.Condition{
			{Kind: veld.ConditionPropertyMatch, PropertyName: "feature.on", ExpectedValue: "true", HasExpectedValue: true},
		},
	}
	reqDesc := &veld.ComponentDescriptor{ID: "reqscoped", Type: reqType, ScopeID: veld.ScopeRequest}

	ir := &veld.AnnotationIR{Components: []*veld.ComponentDescriptor{cfgDesc, svcDesc, excludedDesc, reqDesc}}

	factories := map[string]veld.Factory{
		"cfg": &veld.FuncFactory{
			Desc: cfgDesc,
			CreateFunc: func(veld.ArgResolver) (any, error) {
				return &demoConfig{Name: "prod"}, nil
			},
		},
		"svc": &veld.FuncFactory{
			Desc: svcDesc,
			CreateFunc: func(args veld.ArgResolver) (any, error) {
				v, err := args.Resolve(0)
				if err != nil {
					return nil, err
				}
				cfg, _ := v.(*demoConfig)
				return &demoService{cfg: cfg}, nil
			},
		},
		"excluded": &veld.FuncFactory{
			Desc:       excludedDesc,
			CreateFunc: func(veld.ArgResolver) (any, error) { return &struct{}{}, nil },
		},
		"reqscoped": &veld.FuncFactory{
			Desc: reqDesc,
			CreateFunc: func(args veld.ArgResolver) (any, error) {
				id, _ := veld.RequestIDFrom(args.Context())
				return &demoRequestScoped{ID: id}, nil
			},
		},
	}

	return ir, factories
}

func TestBoot_InstantiatesSingletonsAndWiresDependency(t *testing.T) {
	ir, factories := buildDemoIR()

	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	svc, err := veld.Get[*demoService](c)
	if err != nil {
		t.Fatalf("Get[*demoService] failed: %v", err)
	}
	if svc.cfg == nil || svc.cfg.Name != "prod" {
		t.Fatalf("expected the service to have its config injected, got %+v", svc)
	}
	if !svc.started {
		t.Fatal("expected AfterPropertiesSet to have run during boot")
	}
}

func TestBoot_ConditionExcludesComponent(t *testing.T) {
	ir, factories := buildDemoIR()

	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	excluded := c.Excluded()
	found := false
	for _, ex := range excluded {
		if ex.ComponentID == "excluded" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'excluded' to be filtered out by its property-match condition, got %+v", excluded)
	}
}

func TestBoot_SingletonIsSameInstanceAcrossResolutions(t *testing.T) {
	ir, factories := buildDemoIR()
	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	a, err := veld.Get[*demoConfig](c)
	if err != nil {
		t.Fatal(err)
	}
	b, err := veld.Get[*demoConfig](c)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected the singleton-scoped config to be the same pointer across resolutions")
	}
}

func TestBoot_RequestScopedResolutionRequiresRequestID(t *testing.T) {
	ir, factories := buildDemoIR()
	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}), veld.WithScope(veld.NewRequestScope(0, 0)))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	_, err = veld.GetCtx[*demoRequestScoped](context.Background(), c)
	if _, ok := err.(veld.NoRequestContextError); !ok {
		t.Fatalf("expected NoRequestContextError without a request id on context, got %v", err)
	}

	ctx := veld.WithRequestID(context.Background(), "req-42")
	v, err := veld.GetCtx[*demoRequestScoped](ctx, c)
	if err != nil {
		t.Fatalf("expected request-scoped resolution to succeed with a request id, got %v", err)
	}
	if v.ID != "req-42" {
		t.Fatalf("expected the request id to flow through to the component, got %q", v.ID)
	}
}

func TestBoot_HasAndGetOptional(t *testing.T) {
	ir, factories := buildDemoIR()
	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	if !veld.Has[*demoConfig](c) {
		t.Fatal("expected Has[*demoConfig] to report true")
	}

	opt := veld.GetOptional[*demoService](c)
	if !opt.Present() {
		t.Fatal("expected the registered service to be present via GetOptional")
	}

	type neverRegistered struct{}
	missing := veld.GetOptional[*neverRegistered](c)
	if missing.Present() {
		t.Fatal("expected an unregistered type to be absent via GetOptional")
	}
}

// emailService is a Go interface two fixtures below implement, standing in
// for a component's @Supertypes in S3's "two producers of an interface type"
// scenario.
type emailService interface{ Send(msg string) error }

type smtpEmailService struct{}

func (smtpEmailService) Send(string) error { return nil }

type smsEmailService struct{}

func (smsEmailService) Send(string) error { return nil }

func buildEmailServiceIR(smtpPrimary bool) (*veld.AnnotationIR, map[string]veld.Factory) {
	ifaceType := testTypeName[emailService]()

	smtp := &veld.ComponentDescriptor{
		ID: "smtp", Type: testTypeName[smtpEmailService](), Supertypes: []string{ifaceType},
		ScopeID: veld.ScopeSingleton, Primary: smtpPrimary,
	}
	sms := &veld.ComponentDescriptor{
		ID: "sms", Type: testTypeName[smsEmailService](), Supertypes: []string{ifaceType},
		ScopeID: veld.ScopeSingleton,
	}

	ir := &veld.AnnotationIR{Components: []*veld.ComponentDescriptor{smtp, sms}}
	factories := map[string]veld.Factory{
		"smtp": &veld.FuncFactory{Desc: smtp, CreateFunc: func(veld.ArgResolver) (any, error) { return smtpEmailService{}, nil }},
		"sms":  &veld.FuncFactory{Desc: sms, CreateFunc: func(veld.ArgResolver) (any, error) { return smsEmailService{}, nil }},
	}
	return ir, factories
}

func TestBoot_GetByInterfaceFallsBackToThePrimaryProducer(t *testing.T) {
	ir, factories := buildEmailServiceIR(true)
	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	v, err := veld.Get[emailService](c)
	if err != nil {
		t.Fatalf("expected Get[emailService] to resolve through the primary producer, got: %v", err)
	}
	if _, ok := v.(smtpEmailService); !ok {
		t.Fatalf("expected the primary smtp producer, got %T", v)
	}
}

func TestBoot_GetByInterfaceWithNoPrimaryIsAmbiguous(t *testing.T) {
	ir, factories := buildEmailServiceIR(false)
	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	_, err = veld.Get[emailService](c)
	if _, ok := err.(veld.AmbiguousDependencyError); !ok {
		t.Fatalf("expected AmbiguousDependencyError with two producers and no primary, got %v", err)
	}
}

func TestBoot_GetProviderResolvesSingleton(t *testing.T) {
	ir, factories := buildDemoIR()
	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	provider, err := veld.GetProvider[*demoConfig](c)
	if err != nil {
		t.Fatalf("GetProvider failed: %v", err)
	}
	cfg, err := provider()
	if err != nil {
		t.Fatalf("provider call failed: %v", err)
	}
	if cfg.Name != "prod" {
		t.Fatalf("expected the provider to resolve the same singleton config, got %+v", cfg)
	}
}

func TestBoot_GetAllReturnsTheSingleConfigProducer(t *testing.T) {
	ir, factories := buildDemoIR()
	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	configs, err := veld.GetAll[*demoConfig](c)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected exactly one *demoConfig producer, got %d", len(configs))
	}
}

func TestBoot_ShutdownTearsDownWithoutError(t *testing.T) {
	ir, factories := buildDemoIR()
	c, err := veld.Boot(ir, factories, veld.WithPropertySource(stubProps{}))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
}
