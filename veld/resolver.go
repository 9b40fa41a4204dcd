package veld

import "sort"

// This file implements §4.B, the dependency resolver: it turns the
// annotation IR into a fully-resolved graph, an emission plan (topological
// construction order plus per-injection-point edges), and a diagnostic
// report. Grounded on the teacher's invokeFactory/resolve recursion
// (di/container.go) generalized from single-shot reflection calls into a
// static, whole-program graph pass, and on alexisbeaulieu97-Streamy's
// internal/config/cycle_detector.go for the cycle-detection shape (DFS over
// a discovery-ordered adjacency map).

// Edge connects a consumer injection point to the producer id it resolved
// to.
type Edge struct {
	Point      InjectionPoint
	ProducerID string
	Wrapper    WrapperKind
}

// Graph is the fully-resolved, topologically-ordered component graph.
type Graph struct {
	// Order lists every component id in the IR in construction order
	// (before conditional filtering).
	Order []string
	// Edges lists every consumer->producer edge discovered during
	// resolution, including those permitted across a deferred back-edge.
	Edges []Edge
	// Deferred lists edges that close a cycle but were permitted because
	// the consumer side is a Provider or Optional wrapper (§4.B).
	Deferred []Edge

	// ArgPlan maps a component id to its injection points' resolved
	// producers, indexed by each point's position in the descriptor's
	// InjectionPoints slice — this is the "order computed by the resolver"
	// §4.C's Factory.Create contract refers to.
	ArgPlan map[string][]ArgBinding

	byID map[string]*ComponentDescriptor
}

// ArgBinding is one resolved injection point: its wrapper kind and the
// producer id(s) it resolved to (zero for a missed optional, one for
// direct/provider/optional, zero-or-more for a collection).
type ArgBinding struct {
	Wrapper     WrapperKind
	ProducerIDs []string
}

// ByID returns the component descriptor for id, or nil.
func (g *Graph) ByID(id string) *ComponentDescriptor { return g.byID[id] }

// Resolver builds a Graph from an AnnotationIR.
type Resolver struct {
	ir   *AnnotationIR
	byID map[string]*ComponentDescriptor
	// byType indexes producers by declared type and every supertype.
	byType map[string][]*ComponentDescriptor
	// byName indexes producers by component name.
	byName map[string]*ComponentDescriptor
}

// NewResolver prepares a Resolver over ir. ir is assumed immutable for the
// lifetime of the Resolver (§3 lifecycles).
func NewResolver(ir *AnnotationIR) *Resolver {
	r := &Resolver{
		ir:     ir,
		byID:   make(map[string]*ComponentDescriptor, len(ir.Components)),
		byType: make(map[string][]*ComponentDescriptor),
		byName: make(map[string]*ComponentDescriptor),
	}
	for _, c := range ir.Components {
		r.byID[c.ID] = c
		r.byType[c.Type] = append(r.byType[c.Type], c)
		for _, st := range c.Supertypes {
			r.byType[st] = append(r.byType[st], c)
		}
		if c.Name != "" {
			r.byName[c.Name] = c
		}
	}
	return r
}

// candidatesFor returns every producer whose declared type or supertype set
// contains t, sorted by ascending Order then DiscoveryIndex (rule 1).
func (r *Resolver) candidatesFor(t string) []*ComponentDescriptor {
	cands := append([]*ComponentDescriptor(nil), r.byType[t]...)
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Order != cands[j].Order {
			return cands[i].Order < cands[j].Order
		}
		return cands[i].DiscoveryIndex < cands[j].DiscoveryIndex
	})
	return cands
}

// resolvePoint applies resolution rules 1-6 for one injection point and
// returns the resolved producer ids (zero, one, or many for collections).
func (r *Resolver) resolvePoint(point InjectionPoint, diags *Diagnostics) []string {
	cands := r.candidatesFor(point.RequestedType)

	if point.Qualifier != "" {
		filtered := cands[:0:0]
		for _, c := range cands {
			for _, q := range c.Qualifiers {
				if q == point.Qualifier {
					filtered = append(filtered, c)
					break
				}
			}
		}
		cands = filtered
	}

	switch point.Wrapper {
	case WrapperCollection:
		ids := make([]string, len(cands))
		for i, c := range cands {
			ids[i] = c.ID
		}
		return ids

	case WrapperOptional:
		id, _ := r.pickOne(point, cands, diags, false)
		if id == "" {
			return nil
		}
		return []string{id}

	case WrapperProvider:
		// Providers resolve to a producer at build time; laziness is a
		// runtime property of the closure, not of this resolution step.
		id, ok := r.pickOne(point, cands, diags, point.Required)
		if !ok {
			return nil
		}
		return []string{id}

	default: // WrapperDirect
		id, ok := r.pickOne(point, cands, diags, true)
		if !ok {
			return nil
		}
		return []string{id}
	}
}

// pickOne implements resolution rules 4-6 over a (possibly already
// qualifier-filtered) candidate list. mustError controls whether a miss
// records a fatal UnsatisfiedDependencyError (true) or is silently allowed
// (false, for optional/un-required providers).
func (r *Resolver) pickOne(point InjectionPoint, cands []*ComponentDescriptor, diags *Diagnostics, mustError bool) (string, bool) {
	switch len(cands) {
	case 0:
		if mustError {
			diags.Add(true, "UnsatisfiedDependency", UnsatisfiedDependencyError{
				Point: point, RequestedType: point.RequestedType, Qualifier: point.Qualifier,
			})
		}
		return "", false

	case 1:
		return cands[0].ID, true

	default:
		if point.Qualifier != "" {
			// Rule 4: qualifier narrows to exactly one, or it's ambiguous.
			names := idsOf(cands)
			diags.Add(true, "AmbiguousDependency", AmbiguousDependencyError{Point: point, Candidates: names})
			return "", false
		}

		var primaries []*ComponentDescriptor
		for _, c := range cands {
			if c.Primary {
				primaries = append(primaries, c)
			}
		}
		switch len(primaries) {
		case 1:
			return primaries[0].ID, true
		case 0:
			diags.Add(true, "AmbiguousDependency", AmbiguousDependencyError{Point: point, Candidates: idsOf(cands)})
			return "", false
		default:
			diags.Add(true, "MultiplePrimary", MultiplePrimaryError{Type: point.RequestedType, Candidates: idsOf(primaries)})
			return "", false
		}
	}
}

func idsOf(cs []*ComponentDescriptor) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

// Build resolves every injection point, constructs the "A needs B" graph
// (direct dependencies plus @DependsOn edges), computes a topological
// construction order via Kahn's algorithm, and returns the result alongside
// a Diagnostics report. If any fatal diagnostic was recorded the returned
// error is the Diagnostics value itself; callers should not use Graph in
// that case.
func (r *Resolver) Build() (*Graph, *Diagnostics, error) {
	diags := &Diagnostics{}

	adjacency := make(map[string]map[string]WrapperKind, len(r.ir.Components)) // A -> B -> wrapper of the edge that created it
	edges := make([]Edge, 0)

	ensure := func(id string) {
		if _, ok := adjacency[id]; !ok {
			adjacency[id] = make(map[string]WrapperKind)
		}
	}
	for _, c := range r.ir.Components {
		ensure(c.ID)
	}

	argPlan := make(map[string][]ArgBinding, len(r.ir.Components))

	for _, c := range r.ir.Components {
		bindings := make([]ArgBinding, len(c.InjectionPoints))
		for pi, point := range c.InjectionPoints {
			producers := r.resolvePoint(point, diags)
			bindings[pi] = ArgBinding{Wrapper: point.Wrapper, ProducerIDs: producers}
			for _, pid := range producers {
				edges = append(edges, Edge{Point: point, ProducerID: pid, Wrapper: point.Wrapper})
				ensure(pid)
				if existing, ok := adjacency[c.ID][pid]; !ok || point.Wrapper == WrapperDirect {
					_ = existing
					adjacency[c.ID][pid] = point.Wrapper
				}
			}
		}
		argPlan[c.ID] = bindings
		for _, dep := range c.DependsOn {
			target := dep
			if t, ok := r.byName[dep]; ok {
				target = t.ID
			}
			ensure(target)
			if _, ok := adjacency[c.ID][target]; !ok {
				adjacency[c.ID][target] = WrapperDirect
			}
		}
	}

	if diags.HasFatal() {
		return nil, diags, diags
	}

	order, deferred, cycleErr := topoSort(r.ir.Components, adjacency)
	if cycleErr != nil {
		diags.Add(true, "DependencyCycle", *cycleErr)
		return nil, diags, diags
	}
	for _, d := range deferred {
		diags.Add(false, "DependencyCycle", DependencyCycleError{Chain: []string{d.from, d.to}})
	}

	byID := make(map[string]*ComponentDescriptor, len(r.ir.Components))
	for _, c := range r.ir.Components {
		byID[c.ID] = c
	}

	g := &Graph{Order: order, Edges: edges, ArgPlan: argPlan, byID: byID}
	for _, d := range deferred {
		for _, e := range edges {
			if e.Point.Owner == d.from && e.ProducerID == d.to {
				g.Deferred = append(g.Deferred, e)
			}
		}
	}

	return g, diags, nil
}

type deferredEdge struct{ from, to string }

// deferrableWrapper returns true for wrapper kinds whose back-edge may break
// a cycle without being a fatal error (§4.B: "cycles broken by at least one
// provider or optional on the back edge are permitted").
func deferrableWrapper(w WrapperKind) bool {
	return w == WrapperProvider || w == WrapperOptional
}

// topoSort runs Kahn's algorithm over the "A needs B" adjacency map, using
// ascending Order then DiscoveryIndex to break ties among ready nodes. When
// the algorithm stalls with nodes remaining, it looks for a deferrable edge
// (provider/optional) within the remaining subgraph to drop and continue;
// if none exists, the stall is a fatal DependencyCycleError.
func topoSort(components []*ComponentDescriptor, adjacency map[string]map[string]WrapperKind) ([]string, []deferredEdge, *DependencyCycleError) {
	byID := make(map[string]*ComponentDescriptor, len(components))
	for _, c := range components {
		byID[c.ID] = c
	}

	// remaining[A] holds the B's of every edge A->B still in force ("A needs
	// B done first", so B must precede A). A node is ready once none of its
	// remaining dependencies is unbuilt.
	remaining := make(map[string]map[string]bool, len(adjacency))
	for from, tos := range adjacency {
		remaining[from] = make(map[string]bool, len(tos))
		for to := range tos {
			if to == from {
				continue // self-loop has no effect on ordering
			}
			remaining[from][to] = true
		}
	}

	var order []string
	var deferred []deferredEdge
	built := make(map[string]bool, len(byID))

	ready := func() []string {
		var r []string
		for id := range byID {
			if built[id] {
				continue
			}
			hasUnbuilt := false
			for dep := range remaining[id] {
				if !built[dep] {
					hasUnbuilt = true
					break
				}
			}
			if !hasUnbuilt {
				r = append(r, id)
			}
		}
		sort.SliceStable(r, func(i, j int) bool {
			ci, cj := byID[r[i]], byID[r[j]]
			if ci.Order != cj.Order {
				return ci.Order < cj.Order
			}
			return ci.DiscoveryIndex < cj.DiscoveryIndex
		})
		return r
	}

	for len(built) < len(byID) {
		r := ready()
		if len(r) == 0 {
			// Stalled: look for any deferrable edge among the unbuilt
			// components to break the cycle.
			broke := false
			var unbuiltIDs []string
			for id := range byID {
				if !built[id] {
					unbuiltIDs = append(unbuiltIDs, id)
				}
			}
			sort.Strings(unbuiltIDs)
			for _, from := range unbuiltIDs {
				var tos []string
				for to := range remaining[from] {
					tos = append(tos, to)
				}
				sort.Strings(tos)
				for _, to := range tos {
					if built[to] {
						continue
					}
					if deferrableWrapper(adjacency[from][to]) {
						delete(remaining[from], to)
						deferred = append(deferred, deferredEdge{from: from, to: to})
						broke = true
						break
					}
				}
				if broke {
					break
				}
			}
			if !broke {
				chain := cycleChain(byID, remaining, built)
				return nil, nil, &DependencyCycleError{Chain: chain}
			}
			continue
		}
		for _, id := range r {
			order = append(order, id)
			built[id] = true
		}
	}

	return order, deferred, nil
}

// cycleChain walks the unbuilt subgraph from an arbitrary start to produce a
// human-readable cycle for the error message.
func cycleChain(byID map[string]*ComponentDescriptor, remaining map[string]map[string]bool, built map[string]bool) []string {
	var start string
	for id := range byID {
		if !built[id] {
			start = id
			break
		}
	}
	visited := map[string]bool{}
	chain := []string{}
	cur := start
	for !visited[cur] {
		visited[cur] = true
		chain = append(chain, cur)
		next := ""
		var tos []string
		for to := range remaining[cur] {
			if !built[to] {
				tos = append(tos, to)
			}
		}
		sort.Strings(tos)
		if len(tos) > 0 {
			next = tos[0]
		}
		if next == "" {
			break
		}
		cur = next
	}
	chain = append(chain, cur)
	return chain
}
