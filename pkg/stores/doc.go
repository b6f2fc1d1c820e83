// Package stores provides durable persistence for deployments and their
// event logs. The SQLite implementation satisfies the lifecycle.Store
// boundary; schema changes ship as embedded migrations and are applied on
// startup.
package stores
