package veld

import "sort"

// This file implements §4.E, the conditional registry. It wraps a set of
// candidate factories with a boot-time filter driven by an externally
// supplied property source, class loader, and active-profile set (§6
// "consumed from collaborators").

// PropertySource is the environment/property collaborator consumed by
// property-match and ${...} expansion performed upstream of this core.
type PropertySource interface {
	Get(name string) (string, bool)
	Has(name string) bool
	ActiveProfiles() []string
}

// ClassLoader resolves a class name for class-presence conditions. The host
// supplies the concrete implementation; veld never loads classes itself.
type ClassLoader interface {
	HasClass(name string) bool
}

// Excluded records one component that a condition filtered out of the final
// registry, with a human-readable reason (§4.E).
type Excluded struct {
	ComponentID string
	Reason      string
}

// ConditionEvaluator interprets one component's condition list, honoring
// the fixed evaluation order class-presence -> property-match ->
// present-bean -> missing-bean -> profile-match, AND semantics, first
// failure wins.
type ConditionEvaluator struct {
	Conditions []Condition
}

// conditionContext is the boot-time state a ConditionEvaluator consults.
type conditionContext struct {
	props       PropertySource
	classLoader ClassLoader
	registered  map[string]bool // component ids/types/names already registered
}

// Evaluate runs every condition in the fixed order; the first failure
// short-circuits and its message becomes the exclusion reason. An empty
// condition list always passes.
func (ce *ConditionEvaluator) Evaluate(ctx conditionContext) (bool, string) {
	byKind := make(map[ConditionKind][]Condition, len(ce.Conditions))
	for _, c := range ce.Conditions {
		byKind[c.Kind] = append(byKind[c.Kind], c)
	}

	for _, kind := range evaluationOrder {
		for _, c := range byKind[kind] {
			if ok, reason := evaluateOne(c, ctx); !ok {
				return false, reason
			}
		}
	}
	return true, ""
}

func evaluateOne(c Condition, ctx conditionContext) (bool, string) {
	switch c.Kind {
	case ConditionClassPresence:
		for _, name := range c.ClassNames {
			if ctx.classLoader == nil || !ctx.classLoader.HasClass(name) {
				return false, "class not present: " + name
			}
		}
		return true, ""

	case ConditionPropertyMatch:
		value, present := "", false
		if ctx.props != nil {
			value, present = ctx.props.Get(c.PropertyName)
		}
		switch {
		case present && c.HasExpectedValue && value == c.ExpectedValue:
			return true, ""
		case present && !c.HasExpectedValue:
			return true, ""
		case !present && c.MatchIfMissing:
			return true, ""
		default:
			return false, "property condition failed for " + c.PropertyName
		}

	case ConditionPresentBean:
		return evaluatePresence(c, ctx, true)

	case ConditionMissingBean:
		return evaluatePresence(c, ctx, false)

	case ConditionProfileMatch:
		active := map[string]bool{}
		if ctx.props != nil {
			for _, p := range ctx.props.ActiveProfiles() {
				active[p] = true
			}
		}
		matches := 0
		for _, p := range c.Profiles {
			if active[p] {
				matches++
			}
		}
		if c.Strategy == StrategyAny {
			if matches > 0 {
				return true, ""
			}
			return false, "no active profile matched"
		}
		if matches == len(c.Profiles) {
			return true, ""
		}
		return false, "not all required profiles are active"

	default:
		return true, ""
	}
}

// evaluatePresence backs both present-bean (want=true) and missing-bean
// (want=false). strategy=ANY on present-bean changes "all" to "at least
// one"; missing-bean has no ANY variant (§4.E: "none... may be present").
func evaluatePresence(c Condition, ctx conditionContext, want bool) (bool, string) {
	names := append(append([]string(nil), c.BeanTypeNames...), c.BeanNames...)
	if len(names) == 0 {
		return true, ""
	}
	count := 0
	for _, n := range names {
		if ctx.registered[n] {
			count++
		}
	}
	if want {
		if c.Strategy == StrategyAny {
			if count > 0 {
				return true, ""
			}
			return false, "present-bean: none of the required beans are registered"
		}
		if count == len(names) {
			return true, ""
		}
		return false, "present-bean: not all required beans are registered"
	}
	if count == 0 {
		return true, ""
	}
	return false, "missing-bean: a forbidden bean is registered"
}

// ConditionalRegistry runs the two-pass evaluation described in §4.E over a
// candidate factory set and produces the surviving, freshly re-indexed
// Registry plus the excluded list.
type ConditionalRegistry struct {
	Props       PropertySource
	ClassLoader ClassLoader
}

// Filter evaluates every candidate's conditions and returns the surviving
// Registry (re-indexed to a fresh contiguous [0,M) space) and the excluded
// list, in stable discovery order.
func (cr *ConditionalRegistry) Filter(candidates []Factory) (Registry, []Excluded) {
	ordered := append([]Factory(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Order() != ordered[j].Order() {
			return ordered[i].Order() < ordered[j].Order()
		}
		return ordered[i].Index() < ordered[j].Index()
	})

	registered := map[string]bool{}
	var survivors []Factory
	var excluded []Excluded

	// First pass: every factory with no conditions registers unconditionally.
	var conditional []Factory
	for _, f := range ordered {
		if !f.HasConditions() {
			survivors = append(survivors, f)
			registered[f.ComponentType()] = true
			registered[f.ComponentName()] = true
		} else {
			conditional = append(conditional, f)
		}
	}

	// Second pass: conditional factories, in order; present-bean/missing-bean
	// consult first-pass plus earlier second-pass successes (§4.E).
	ctx := conditionContext{props: cr.Props, classLoader: cr.ClassLoader, registered: registered}
	for _, f := range conditional {
		ev := f.CreateConditionEvaluator()
		ok, reason := ev.Evaluate(ctx)
		if ok {
			survivors = append(survivors, f)
			registered[f.ComponentType()] = true
			registered[f.ComponentName()] = true
		} else {
			excluded = append(excluded, Excluded{ComponentID: f.ComponentName(), Reason: reason})
		}
	}

	return BuildRegistry(survivors), excluded
}
