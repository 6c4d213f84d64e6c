// Dirigent orchestrates multi-agent SDLC workflows: it pools specialized
// agents per role, drives workflow plans through them, and recovers from
// task failures with retries, reassignment, and checkpoints.
//
// `dirigent serve` boots the engine with its operator HTTP API; the other
// subcommands are thin clients against a running server.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(2)
	}
}
