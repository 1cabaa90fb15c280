// Package engine implements the provisioning orchestration core: strategy
// detection, the queue-driven idempotent apply algorithm, and orphan cleanup.
//
// # Overview
//
// A submitted share pack flows through four stages:
//
//  1. Submit - validate the parsed configuration, resolve the strategy, and
//     enqueue a provisioning message (Submitter)
//  2. Detect - decide create-new, reconcile, or delete from declared intent
//     and current remote state (Detector)
//  3. Apply - execute the fixed step order against the sharing platform:
//     ensure recipients, ensure shares, ensure pipelines, persist, cleanup
//     orphans (Orchestrator)
//  4. Cleanup - soft-delete pipelines whose source asset was removed,
//     deleting them remotely only when no other active share declares the
//     same asset
//
// Every step has ensure semantics (create if absent, update if present), so
// at-least-once queue redelivery converges instead of duplicating resources.
// All remote effects go through the PlatformClient capability interface; the
// engine does not implement the remote protocol.
package engine
