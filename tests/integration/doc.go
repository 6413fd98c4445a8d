// Package integration verifies the database-backed durable tiers against
// real Redis, PostgreSQL and MongoDB instances started with testcontainers.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration
