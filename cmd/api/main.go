package main

import (
	"os"

	"github.com/xpanvictor/liverelay/internal/cmd"
)

var version = "dev"

// @title Live Relay API
// @version 1.0
// @description Operational endpoints of the realtime voice relay.
// @BasePath /

// This is the main entry point for the relay server.
// Builds the CLI, serves until signalled, exits with the shutdown code
func main() {
	os.Exit(cmd.Execute(version))
}
