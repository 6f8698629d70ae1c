// Package scheduler registers triggers (cron, interval and one-shot) and
// enqueues their jobs into the task engine when they fire. It never runs
// jobs itself.
//
// One-shot triggers are keyed by name: registering the same name again
// replaces the pending trigger, and Remove cancels it before it fires.
package scheduler
