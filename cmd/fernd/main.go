// Package main is the single-binary entrypoint for Fern.
// Fern is a distributed runtime for hosting WASM guests as long-lived,
// addressable participants on a peer-to-peer overlay.
package main

import "github.com/fern-network/fern/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
