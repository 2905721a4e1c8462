// Package failsafe guards destructive edits with engine checkpoints. A
// checkpoint is taken before dispatch and its handle persisted with the
// job, so a rollback can run even after a daemon crash. Clearing the
// handle after a successful restore keeps rollback exactly-once from
// darkroom's side; the engine additionally tolerates duplicate handles.
package failsafe
