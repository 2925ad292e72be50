// Package shell contains the imperative shell around aggregates and sagas: retrying commands that
// lost an optimistic concurrency race, and (in shell/config) building database connections and
// reading process configuration.
//
// In Domain-Driven Design or Hexagonal Architecture terminology, this would be
// called the 'infrastructure' layer.
package shell
