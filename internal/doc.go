// Package internal contains the implementation packages of skiff.
//
// # Package Organization
//
//   - config: viper-backed configuration, defaults, path resolution and validation
//   - dom: HTML manifest parsing, asset tag discovery and ID-addressed mutation
//   - asset: source file resolution, content hashing and SRI digests
//   - pipelines: the registry of asset pipelines and their concurrent dispatch
//   - tools: lazily resolved external tools shared by the pipelines of a process
//   - hooks: user commands run at the pre_build, asset and post_build stages
//   - build: the build cycle, from staging to the atomic publish into dist
//   - watcher: fsnotify subscription and the debounced rebuild loop
//   - server: the development server with live reload
//   - errors, logging, metrics, progress, shutdown, version: shared plumbing
//
// # Build Cycle
//
// A cycle parses the manifest, constructs one pipeline per recognized asset
// tag, runs them concurrently into a staging directory and applies their
// outputs to the document in tag order. Hooks run at fixed stages. Only a
// cycle that finishes every step replaces dist; a failed or canceled cycle
// leaves the previous dist in place.
//
// # Watching
//
// The watch loop coalesces bursts of file events into a single cycle and
// ignores events for paths the build itself writes, so publishing never
// triggers another build.
package internal
