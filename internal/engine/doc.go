// Package engine implements change detection and state dispatch for records
// held in an external store.
//
// Every cycle is a level-triggered reconciliation: list a table, keep the
// records whose status differs from the cursor persisted in their meta blob,
// run the handlers configured for that status, merge their outputs and write
// the new cursor back. No state survives between cycles except what is
// persisted in each record.
//
// Failures are isolated at the smallest unit that can retry on its own. A
// failing handler does not stop its siblings; a failing record does not stop
// the batch. The cursor only advances when every handler for the record
// succeeded, so a failed transition is retried on the next cycle.
package engine
