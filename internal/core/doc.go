// Package core defines the shared vocabulary of the sync platform:
// entity kinds, sync directions and statuses, conflict strategies, the
// canonical entity shape exchanged with plugins, and the structured
// error/result types every component speaks.
//
// Architecture:
//
//	EntityType / SyncDirection / SyncStatus / ConflictStrategy - enumerations
//	EntityData      - canonical record shape plugins translate into/out of
//	SyncContext     - per-invocation context handed to plugins
//	SyncResult      - structured outcome of one sync attempt
//	SyncError       - coded, retryable-aware error carried inside results
package core
