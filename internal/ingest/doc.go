// Package ingest accepts live session input: sequence-numbered audio chunks
// and timestamped photos. All mutations for one project run under that
// project's lock so the sequence check and the running totals stay
// consistent; different projects ingest fully in parallel. Errors surface
// synchronously to the caller, the service never retries.
package ingest
