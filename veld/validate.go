package veld

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// This file wires github.com/go-playground/validator/v10 over the annotation
// IR before it reaches the resolver, grounded on
// alexisbeaulieu97-Streamy's internal/config/validator.go sync.Once-guarded
// singleton plus custom RegisterValidation rules.

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func irValidator() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("veldscope", validateScopeID)
		_ = v.RegisterValidation("veldwrapper", validateWrapperKind)
		validatorInst = v
	})
	return validatorInst
}

// validateScopeID rejects the empty string; any non-empty scope id is
// structurally valid here (whether it names a registered Scope is a boot-time
// concern, not a shape concern).
func validateScopeID(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// validateWrapperKind checks the field holds one of the four defined
// WrapperKind values.
func validateWrapperKind(fl validator.FieldLevel) bool {
	v := fl.Field().Int()
	return v >= int64(WrapperDirect) && v <= int64(WrapperCollection)
}

// irField is the shape validator/v10 checks per ComponentDescriptor; it
// mirrors the descriptor's public fields so struct tags can drive the rules
// without exporting validator tags on the IR type itself (ComponentDescriptor
// is produced by an external front end and kept free of third-party tags).
type irField struct {
	ID      string `validate:"required"`
	Type    string `validate:"required"`
	ScopeID string `validate:"veldscope"`
}

// ValidateIR checks every component descriptor's required shape invariants
// (§3 invariant 1: every id is unique and non-empty; every descriptor names a
// concrete type and scope) before the resolver ever sees the IR. It returns a
// Diagnostics value (never a bare error) so a caller can report every
// malformed descriptor in one pass, matching the rest of this package's
// "aggregate, don't throw-on-first" error design (§9).
func ValidateIR(ir *AnnotationIR) *Diagnostics {
	diags := &Diagnostics{}
	v := irValidator()

	seen := make(map[string]bool, len(ir.Components))
	for _, c := range ir.Components {
		field := irField{ID: c.ID, Type: c.Type, ScopeID: c.ScopeID}
		if err := v.Struct(field); err != nil {
			diags.Add(true, "MalformedComponent", fmt.Errorf("veld: component %q failed validation: %w", c.ID, err))
			continue
		}
		if seen[c.ID] {
			diags.Add(true, "DuplicateComponentID", fmt.Errorf("veld: duplicate component id %q", c.ID))
		}
		seen[c.ID] = true

		for i, p := range c.InjectionPoints {
			if p.RequestedType == "" {
				diags.Add(true, "MalformedInjectionPoint",
					fmt.Errorf("veld: component %q injection point %d has no requested type", c.ID, i))
			}
			if p.Kind == KindField && p.FieldName == "" {
				diags.Add(true, "MalformedInjectionPoint",
					fmt.Errorf("veld: component %q field injection point %d has no field name", c.ID, i))
			}
		}
	}

	return diags
}
