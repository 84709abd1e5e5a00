// Package types defines the core data model of the temporal knowledge graph:
// episodes, entities, relation edges, and mention edges, together with their
// validation rules and bi-temporal invariants.
package types
