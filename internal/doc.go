// Package internal documents the Gatherly server internals.
//
// The internal tree is organized by responsibility:
// - api: REST handlers, middleware, problem+json rendering, and routing
// - web: server-rendered HTML pages over the same domain services
// - domain: business logic and domain models (events, users, ids)
// - storage: database access and repositories (pgx + Postgres)
// - media: uploaded image storage (local filesystem or S3)
// - auth, config, metrics, sanitize: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
