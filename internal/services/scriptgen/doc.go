// Package scriptgen turns a tokenized transcript into narrative script prose
// through an OpenRouter-compatible chat completion API. Photo placeholders
// travel through the call as opaque positional tokens; the prompt instructs
// the model to copy them verbatim and validation happens downstream.
package scriptgen
