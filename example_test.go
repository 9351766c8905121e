package docsync_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aretw0/docsync"
)

// Example_basic creates a document through the service and reads it back.
// The engine is never started: the service and the hub work without the
// watcher and the relay.
func Example_basic() {
	tmpDir, err := os.MkdirTemp("", "docsync-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	engine, err := docsync.New(tmpDir, docsync.WithWatch(false))
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	ctx := context.Background()

	raw, err := engine.Service.EncodeData(map[string]any{"title": "Hello"})
	if err != nil {
		log.Fatal(err)
	}
	if err := engine.Service.Create(ctx, "demo", "hello.yaml", raw); err != nil {
		log.Fatal(err)
	}

	doc, err := engine.Service.Get(ctx, "demo", "hello.yaml")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s: %v\n", doc.Key(), doc.Data)
	// Output:
	// demo/hello.yaml: map[title:Hello]
}
