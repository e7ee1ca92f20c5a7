// Package config loads the ECLIA gateway's own ambient configuration: the
// gateway bearer token, the exec tool's allowlist, and the send/web tool
// wiring. Upstream provider profiles are a separate concern, owned by
// internal/routeconfig and its own profiles.toml.
//
// Loading follows the same two-tier strategy as the teacher's config
// package: a global file under XDG config, then a per-root override file,
// merged with last-loaded-wins semantics, then environment variables with
// the highest precedence.
package config
