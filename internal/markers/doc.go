// Package markers implements the two-layer placeholder protocol that carries
// photo insertion points through the script generation step.
//
// The placement pass merges transcribed segments and timestamped photos into
// one transcript with [[FOTO:photo_id]] markers. Before the text reaches the
// language model every marker is replaced with an opaque positional token
// [[PH_i]]; after generation the output is validated against the exact token
// set and rehydrated. The model never sees a photo identifier, and any token
// it drops, invents, or duplicates is a hard validation failure rather than
// a silently repaired guess.
package markers
