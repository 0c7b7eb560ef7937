// Package circuit implements the incremental dataflow engine: a DAG of
// operators over weighted changesets, executed one logical step at a time.
//
// A Circuit is built programmatically through handle-returning builder calls
// (AddInput, Map, Filter, Join, Union, Distinct, Aggregate, MarkOutput,
// Fixpoint) and frozen on the first Step. Each step accepts external input
// deltas, propagates them through the operators in topological order and
// returns the deltas observed at the marked outputs. The full materialized
// state of any operator is available through Current, the change produced by
// the most recent step through Delta.
//
// Stateful operators (join, distinct, aggregate) own indexed snapshots of
// their inputs and compute output deltas equivalent to a from-scratch
// recomputation on the accumulated input: this is the engine's central
// correctness contract, exercised by the equivalence tests.
//
// Steps are serial and atomic: a failing step (schema mismatch, fixpoint
// divergence) leaves no operator state mutated.
package circuit
