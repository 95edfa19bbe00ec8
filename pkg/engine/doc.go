// Package engine provides the core of the spinup resource orchestrator.
//
// # Overview
//
// A deployment is described as a tree of resources. Each resource has a
// hierarchical path, an explicit ordered schema and a lifecycle driven in
// three passes:
//
//  1. Elaborate - resolve every reference into a concrete child and flag
//     configuration that is still missing
//  2. Up - bring owned children up in declaration order, then the resource
//  3. Down - tear owned children down in exactly the reverse order
//
// Every step runs inside a Phase. Leaving a Phase, whether it succeeded or
// failed, writes a checkpoint through the Persistor so that a run that was
// interrupted resumes from the last completed step.
//
// # Core Types
//
//   - Var: a configuration variable with default, selection and sticky-default
//     semantics
//   - Ref: a lazy reference that either owns its target or aliases another
//     reference
//   - Resource: a node of the graph, built by embedding Base
//   - Field: one entry of a resource schema (variable, reference, reference
//     list or internal state)
//   - Phase: a checkpointing, logging scope for lifecycle work
//
// # Ownership
//
// A reference that owns its target drives the target's lifecycle. A
// reference that aliases another one only reads through it:
//
//	cluster.KeyPair.Own(keys)
//	instance.KeyPair.Borrow(cluster.KeyPair)
//
// Up and Down are only ever invoked through the owning reference, so a
// shared resource is created once and destroyed once.
//
// # Error Classification
//
// Errors are classified the same way throughout the module:
//
//   - Configuration: a value the operator must supply is missing; these are
//     aggregated in the phase tree and reported once by the root phase
//   - Transient: a temporary failure of an external system
//   - Permanent: a non-recoverable failure of an external system
//
// Configuration problems never abort a pass; external failures abort it
// immediately after the enclosing phases have checkpointed.
package engine
