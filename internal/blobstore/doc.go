// Package blobstore holds the raw bytes behind a project: ingest chunk
// audio, photos, and generated artifacts. Objects are keyed by project id
// plus a relative path. A local filesystem backend and an S3-compatible
// MinIO backend implement the same contract.
package blobstore
