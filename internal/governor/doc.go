// Package governor samples host load and gates job admission. CPU pressure
// halves the worker concurrency until utilization drops back under the
// floor, and accelerator temperature above the limit pauses admission
// entirely until the sensor cools below the resume threshold. Memory is
// reserved per job at admission time so concurrent edits cannot
// oversubscribe the host.
package governor
