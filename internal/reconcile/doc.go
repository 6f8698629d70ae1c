// Package reconcile moves stale Scheduled check-ins to their classified
// status.
//
// A run selects an owner's Scheduled check-ins dated before now,
// classifies each with the status package and persists every transition in
// one conditional bulk update. The store re-checks the condition, so
// duplicate or concurrent runs are harmless; the per-owner cooldown only
// saves work.
//
// Runs are triggered by auth events and deferred through the task scheduler
// so they never block sign-in. Failures are logged and dropped; the next
// event triggers a fresh attempt.
package reconcile
