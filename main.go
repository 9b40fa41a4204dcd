package main

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/veldframework/veld/internal/obslog"
	"github.com/veldframework/veld/veld"
)

// =============================================================================
// Domain Interfaces
// =============================================================================

// Logger defines the logging contract.
type Logger interface {
	Log(message string)
	LogError(message string)
}

// Config holds application configuration.
type Config interface {
	DatabaseURL() string
}

// Database represents a database connection.
type Database interface {
	Query(sql string) ([]map[string]any, error)
	Close() error
}

// Cache represents a caching layer. Registered conditionally on the
// "cache.enabled" property (§4.E) — the demo boots with it set to "true".
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// UserRepository handles user data access.
type UserRepository interface {
	FindByID(id int) (*User, error)
}

// UserService handles user business logic.
type UserService interface {
	GetUser(id int) (*User, error)
}

// User is a domain model.
type User struct {
	ID    int
	Name  string
	Email string
}

// =============================================================================
// Implementations
// =============================================================================

type ConsoleLogger struct{ prefix string }

func (l *ConsoleLogger) Log(message string)      { fmt.Printf("%s INFO: %s\n", l.prefix, message) }
func (l *ConsoleLogger) LogError(message string)  { fmt.Printf("%s ERROR: %s\n", l.prefix, message) }

type AppConfig struct{ dbURL string }

func (c *AppConfig) DatabaseURL() string { return c.dbURL }

// PostgresDatabase simulates a postgres connection; AfterPropertiesSet
// opens it, DestroyBean closes it (§4.G InitializingBean/DisposableBean).
type PostgresDatabase struct {
	logger    Logger
	config    Config
	connected bool
}

func (db *PostgresDatabase) AfterPropertiesSet() error {
	db.logger.Log(fmt.Sprintf("connecting to %s", db.config.DatabaseURL()))
	db.connected = true
	return nil
}

func (db *PostgresDatabase) DestroyBean() error {
	db.logger.Log("closing database connection")
	db.connected = false
	return nil
}

func (db *PostgresDatabase) Query(sql string) ([]map[string]any, error) {
	db.logger.Log(fmt.Sprintf("executing query: %s", sql))
	return []map[string]any{
		{"id": 1, "name": "Alice", "email": "alice@example.com"},
		{"id": 2, "name": "Bob", "email": "bob@example.com"},
	}, nil
}

func (db *PostgresDatabase) Close() error { return nil }

type InMemoryCache struct {
	logger Logger
	data   map[string]any
}

func (c *InMemoryCache) Get(key string) (any, bool) { v, ok := c.data[key]; return v, ok }
func (c *InMemoryCache) Set(key string, value any)  { c.data[key] = value }

// DefaultUserRepository takes Cache as an optional injection point: if the
// "cache.enabled" condition excluded the Cache component, cache is nil and
// the repository falls back to querying the database every time (§4.B rule
// 2, the Optional wrapper).
type DefaultUserRepository struct {
	db     Database
	cache  Cache
	logger Logger
}

func (r *DefaultUserRepository) FindByID(id int) (*User, error) {
	key := fmt.Sprintf("user:%d", id)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			r.logger.Log(fmt.Sprintf("cache hit for user %d", id))
			return cached.(*User), nil
		}
	}

	results, err := r.db.Query(fmt.Sprintf("SELECT * FROM users WHERE id = %d", id))
	if err != nil || len(results) == 0 {
		return nil, fmt.Errorf("user %d not found", id)
	}
	user := &User{ID: results[0]["id"].(int), Name: results[0]["name"].(string), Email: results[0]["email"].(string)}
	if r.cache != nil {
		r.cache.Set(key, user)
	}
	return user, nil
}

type DefaultUserService struct {
	repo   UserRepository
	logger Logger
}

func (s *DefaultUserService) GetUser(id int) (*User, error) {
	s.logger.Log(fmt.Sprintf("getting user %d", id))
	return s.repo.FindByID(id)
}

// RequestContext is request-scoped: one instance per request id carried on
// context.Context (§4.F, §9 Open Question #2).
type RequestContext struct {
	RequestID string
	StartTime time.Time
}

// staticProps is a minimal veld.PropertySource for the demo, standing in for
// internal/propsource.Source when no YAML file is involved.
type staticProps map[string]string

func (p staticProps) Get(name string) (string, bool) { v, ok := p[name]; return v, ok }
func (p staticProps) Has(name string) bool            { _, ok := p[name]; return ok }
func (p staticProps) ActiveProfiles() []string         { return nil }

// typeName mirrors the container's own type-key derivation so descriptor
// Type fields always agree with what veld.Get[T]/GetNamed[T] compute,
// without hand-typing fragile "main.Foo" literals.
func typeName[T any]() string {
	var zero T
	return reflect.TypeOf(&zero).Elem().String()
}

// =============================================================================
// Application Bootstrap
// =============================================================================

func main() {
	fmt.Println("=== veld compile-time DI demo ===")

	logger, err := obslog.New(obslog.Options{Level: "info", Component: "demo"})
	if err != nil {
		panic(err)
	}

	ir, factories := buildIR()

	props := staticProps{"cache.enabled": "true"}
	container, err := veld.Boot(ir, factories,
		veld.WithPropertySource(props),
		veld.WithLogger(logger),
		veld.WithScope(veld.NewRequestScope(0, 0)),
	)
	if err != nil {
		fmt.Printf("boot failed: %v\n", err)
		return
	}
	defer container.Shutdown()

	fmt.Println("\n--- Resolving UserService ---")
	userService, err := veld.Get[UserService](container)
	if err != nil {
		fmt.Printf("failed to resolve UserService: %v\n", err)
		return
	}
	user, err := userService.GetUser(1)
	if err != nil {
		fmt.Printf("failed to get user: %v\n", err)
		return
	}
	fmt.Printf("  -> user: %s (%s)\n", user.Name, user.Email)

	fmt.Println("\n--- Demonstrating singleton behavior ---")
	logger1, _ := veld.Get[Logger](container)
	logger2, _ := veld.Get[Logger](container)
	logger1.Log("this is logger1")
	logger2.Log(fmt.Sprintf("this is logger2, same instance? %v", logger1 == logger2))

	fmt.Println("\n--- Demonstrating request scope ---")
	demonstrateRequestScope(container)
}

func demonstrateRequestScope(c *veld.Container) {
	ctx1 := veld.WithRequestID(context.Background(), "request-1")
	a, err := veld.GetCtx[*RequestContext](ctx1, c)
	if err != nil {
		fmt.Printf("  failed: %v\n", err)
		return
	}
	b, err := veld.GetCtx[*RequestContext](ctx1, c)
	if err != nil {
		fmt.Printf("  failed: %v\n", err)
		return
	}
	fmt.Printf("  request-1 context A: %s\n", a.RequestID)
	fmt.Printf("  request-1 context B: %s (same instance? %v)\n", b.RequestID, a == b)

	ctx2 := veld.WithRequestID(context.Background(), "request-2")
	d, err := veld.GetCtx[*RequestContext](ctx2, c)
	if err != nil {
		fmt.Printf("  failed: %v\n", err)
		return
	}
	fmt.Printf("  request-2 context: %s (different from request-1? %v)\n", d.RequestID, d != a)
}

// buildIR hand-assembles the annotation IR and the matching FuncFactory set
// an external front end would normally generate (§1 "annotation-parsing
// front end is an external collaborator").
func buildIR() (*veld.AnnotationIR, map[string]veld.Factory) {
	factories := map[string]veld.Factory{}
	var components []*veld.ComponentDescriptor

	add := func(desc *veld.ComponentDescriptor, create func(args veld.ArgResolver) (any, error), opts ...func(*veld.FuncFactory)) {
		components = append(components, desc)
		f := &veld.FuncFactory{Desc: desc, CreateFunc: create}
		for _, o := range opts {
			o(f)
		}
		factories[desc.ID] = f
	}

	add(&veld.ComponentDescriptor{
		ID: "demo.Config", Type: typeName[Config](), ScopeID: veld.ScopeSingleton, DiscoveryIndex: 0,
	}, func(veld.ArgResolver) (any, error) {
		return Config(&AppConfig{dbURL: "postgres://localhost:5432/demo"}), nil
	})

	add(&veld.ComponentDescriptor{
		ID: "demo.Logger", Type: typeName[Logger](), ScopeID: veld.ScopeSingleton, DiscoveryIndex: 1,
	}, func(veld.ArgResolver) (any, error) {
		return Logger(&ConsoleLogger{prefix: "[demo]"}), nil
	})

	add(&veld.ComponentDescriptor{
		ID: "demo.Database", Type: typeName[Database](), ScopeID: veld.ScopeSingleton, DiscoveryIndex: 2,
		InjectionPoints: []veld.InjectionPoint{
			{Owner: "demo.Database", Kind: veld.KindConstructorArg, RequestedType: typeName[Logger](), Required: true, Index: 0},
			{Owner: "demo.Database", Kind: veld.KindConstructorArg, RequestedType: typeName[Config](), Required: true, Index: 1},
		},
		HasPostConstruct: true,
	}, func(args veld.ArgResolver) (any, error) {
		logger, err := args.Resolve(0)
		if err != nil {
			return nil, err
		}
		config, err := args.Resolve(1)
		if err != nil {
			return nil, err
		}
		return &PostgresDatabase{logger: logger.(Logger), config: config.(Config)}, nil
	})

	add(&veld.ComponentDescriptor{
		ID: "demo.Cache", Type: typeName[Cache](), ScopeID: veld.ScopeSingleton, DiscoveryIndex: 3,
		HasConditions: true,
		Conditions: []veld.Condition{
			{Kind: veld.ConditionPropertyMatch, PropertyName: "cache.enabled", ExpectedValue: "true", HasExpectedValue: true},
		},
		InjectionPoints: []veld.InjectionPoint{
			{Owner: "demo.Cache", Kind: veld.KindConstructorArg, RequestedType: typeName[Logger](), Required: true, Index: 0},
		},
	}, func(args veld.ArgResolver) (any, error) {
		logger, err := args.Resolve(0)
		if err != nil {
			return nil, err
		}
		return &InMemoryCache{logger: logger.(Logger), data: make(map[string]any)}, nil
	})

	add(&veld.ComponentDescriptor{
		ID: "demo.UserRepository", Type: typeName[UserRepository](), ScopeID: veld.ScopePrototype, DiscoveryIndex: 4,
		InjectionPoints: []veld.InjectionPoint{
			{Owner: "demo.UserRepository", Kind: veld.KindConstructorArg, RequestedType: typeName[Database](), Required: true, Index: 0},
			{Owner: "demo.UserRepository", Kind: veld.KindConstructorArg, RequestedType: typeName[Cache](), Wrapper: veld.WrapperOptional, Index: 1},
			{Owner: "demo.UserRepository", Kind: veld.KindConstructorArg, RequestedType: typeName[Logger](), Required: true, Index: 2},
		},
	}, func(args veld.ArgResolver) (any, error) {
		db, err := args.Resolve(0)
		if err != nil {
			return nil, err
		}
		cacheVal, err := args.Resolve(1)
		if err != nil {
			return nil, err
		}
		logger, err := args.Resolve(2)
		if err != nil {
			return nil, err
		}
		var cache Cache
		if cacheVal != nil {
			cache = cacheVal.(Cache)
		}
		return &DefaultUserRepository{db: db.(Database), cache: cache, logger: logger.(Logger)}, nil
	})

	add(&veld.ComponentDescriptor{
		ID: "demo.UserService", Type: typeName[UserService](), ScopeID: veld.ScopePrototype, DiscoveryIndex: 5,
		InjectionPoints: []veld.InjectionPoint{
			{Owner: "demo.UserService", Kind: veld.KindConstructorArg, RequestedType: typeName[UserRepository](), Required: true, Index: 0},
			{Owner: "demo.UserService", Kind: veld.KindConstructorArg, RequestedType: typeName[Logger](), Required: true, Index: 1},
		},
	}, func(args veld.ArgResolver) (any, error) {
		repo, err := args.Resolve(0)
		if err != nil {
			return nil, err
		}
		logger, err := args.Resolve(1)
		if err != nil {
			return nil, err
		}
		return &DefaultUserService{repo: repo.(UserRepository), logger: logger.(Logger)}, nil
	})

	add(&veld.ComponentDescriptor{
		ID: "demo.RequestContext", Type: typeName[*RequestContext](), ScopeID: veld.ScopeRequest, DiscoveryIndex: 6,
	}, func(args veld.ArgResolver) (any, error) {
		reqID, _ := veld.RequestIDFrom(args.Context())
		return &RequestContext{RequestID: reqID, StartTime: time.Now()}, nil
	})

	return &veld.AnnotationIR{Components: components}, factories
}
