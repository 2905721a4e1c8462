// Package workers runs the dispatch pipeline. Each worker claims the
// highest-scored runnable job, reserves its memory with the governor,
// checkpoints the subject, and hands the job to the develop engine while
// heartbeating so a dead worker's job can be reclaimed. Outcomes flow
// through the retry manager; failures roll the subject back first.
package workers
