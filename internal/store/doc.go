// Package store persists projects, timelines, quotas, audit events, and
// pipeline jobs in SQLite. It is the single authoritative record: no
// in-process cache shadows it.
package store
