// Package zset implements weighted changesets (Z-sets) over fixed-schema
// tuples, together with the pure algebra the incremental engine is built on.
// See https://mihaibudiu.github.io/work/dbsp-spec.pdf for the underlying
// theory.
//
// A Z-set maps each tuple to an integer weight; negative weights denote
// retraction. Z-sets form an abelian group under pointwise addition, with the
// empty Z-set as identity and weight negation as inverse. Tuples with weight
// zero are never stored.
//
// Key components:
//   - Tuple/Schema: ordered records with per-stream declared field kinds.
//   - ZSet: the core weighted changeset with group operations.
//   - Union, Negate, Scale, Filter, Map, Join, Distinct, Aggregate: stateless
//     algebra used both directly and as building blocks for the incremental
//     operators in package circuit.
//
// Operator classification:
//   - Linear: Union, Negate, Scale, Filter, Map, sum/count folds (commute
//     with addition, so the incremental form is the operator itself).
//   - Bilinear: Join (distributes over addition in each argument separately).
//   - Nonlinear: Distinct, min/max/avg folds (need before/after comparison).
package zset
