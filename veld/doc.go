// Package veld implements a compile-time dependency-injection core: a
// component graph analyzer, a conditional registry and scope engine, and the
// runtime facade callers use to resolve instances.
//
// # Features
//
//   - Whole-program resolution of injection points to producers across
//     types, names, qualifiers, [Provider] and optional wrappers
//   - Topological construction ordering with cycle detection that tolerates
//     provider/optional back-edges
//   - Declarative boot-time conditions (property, classpath, bean presence,
//     profile) that decide final registry membership
//   - Pluggable scopes: singleton, prototype, request, session, and custom
//     scopes registered through a service-provider style registry
//   - A lifecycle processor driving post-construct/pre-destroy ordering and
//     start/stop phases
//
// veld never uses reflection to reach into unexported state at resolution
// time; the companion [github.com/veldframework/veld/weave] package
// rewrites compiled classes ahead of time so generated factories can assign
// private fields directly.
package veld
