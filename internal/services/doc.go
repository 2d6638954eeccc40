// Package services holds the shared error taxonomy and context plumbing used
// by the ingest path, the pipeline stages, and the external service clients.
package services
