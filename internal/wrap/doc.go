// Package wrap provides the decorator middleware core: Invoker is the unit
// of callable behavior, Decorator wraps one Invoker in another, and Chain
// composes decorators outermost-first so a compiled chain reads like stacked
// decorators above a function definition.
//
// Invokers return results without identity: the engine assigns seq values
// and content-addressed IDs when it journals the call, never the decorators.
package wrap
