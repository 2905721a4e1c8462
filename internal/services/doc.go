// Package services provides shared support for components that talk to
// external collaborators: the error taxonomy used to classify failures for
// retry decisions, and context carriers for job-scoped structured logging.
package services
