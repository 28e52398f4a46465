// Package query defines the legacy single-traversal query: a flat list of
// steps walked from one start fact.
//
// Steps:
//   - Join: follow a predecessor role (P.role) or find successors through a
//     role (S.role). Each top-level join contributes one fact to a result path.
//   - PropertyCondition: keep the current fact only if a property equals a
//     value (F.type="Task"). The "type" property is the fact type.
//   - ExistentialCondition: keep the current fact only if a nested step list
//     yields at least one path (E(...)) or none (N(...)).
//
// A Query renders to a stable descriptive string, for example
//
//	S.list F.type="Task" N(S.task F.type="Completion")
//
// and Parse reads that string back. Two queries with the same descriptive
// string are the same query.
package query
