// Package stores provides the persistence layer for the share-pack
// provisioning engine. Every mutable entity (tenant, project, share pack,
// recipient, share, pipeline) is stored as Slowly-Changing-Dimension Type 2
// history: changes insert new version rows, never overwrite, and exactly one
// row per business key is current at any instant. Telemetry tables (sync
// jobs, job metrics, project costs, notifications, audit trail) are plain
// insert-only event logs.
package stores
