// Package docsync is the composition root of a document synchronization engine.
//
// A data directory holds one subdirectory per namespace and one YAML file per
// resource. The engine serves those documents over a JSON API, validates writes
// against per-resource schemas, and pushes every change (API writes and edits
// made directly on disk alike) to connected viewers over a WebSocket channel.
//
// Features:
//
//   - **Atomic writes**: documents are replaced through temp file and rename.
//   - **Schema gate**: declarative YAML schemas or JSON Schema, reporting every violation.
//   - **Change watcher**: debounced filesystem events, own writes suppressed.
//   - **Live channel**: ordered broadcast per viewer, slow viewers dropped.
//   - **Relay**: optional Redis pub/sub fan-out between instances.
//
// Usage:
//
//	engine, err := docsync.New("./data",
//		docsync.WithSchemaDir("./schemas"),
//		docsync.WithLogger(logger),
//	)
//	if err := engine.Start(ctx); err != nil { ... }
//	http.ListenAndServe(":3001", engine.Handler())
package docsync
