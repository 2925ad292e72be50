// Package config loads the settings of a process that hosts event-sourced entities and sagas
// from environment variables, and builds the database connections and OpenTelemetry providers
// those settings describe.
//
// Settings are parsed with caarlos0/env. Every variable carries the ESE_ prefix,
// for example ESE_STORE=sqlite or ESE_POSTGRES_DSN=postgres://...
//
// This package is part of the shell (infrastructure) layer.
package config
