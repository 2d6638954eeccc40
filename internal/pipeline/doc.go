// Package pipeline sequences the background stages that turn a stopped
// recording into a script: prepare fans out per-segment transcription,
// stylize reworks photos best-effort, and finalize merges the timeline
// through the marker protocol and the script generator. Jobs are persisted
// handles in the store; a polling manager claims and executes them under
// per-stage timeouts with bounded retry.
package pipeline
