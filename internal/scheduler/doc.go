// Package scheduler ranks runnable jobs and claims the winner. Priority is
// dynamic: a tier bonus, an age bonus that grows while a job waits, and a
// bump for high-rated source photos. Ties fall back to submission order so
// equal jobs drain first-in first-out.
package scheduler
