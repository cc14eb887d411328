// Command feedcard shows unseen news cards one at a time and remembers which
// ones were already shown.
//
// Usage:
//
//	feedcard                       Start the TUI (same as "feedcard run")
//	feedcard run --language hi     Start the TUI on a language
//	feedcard fetch --language en   Headless fetch, print unseen items
//	feedcard seen                  List items already marked seen
//	feedcard events                JSONL event log viewer
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "feedcard: %v\n", err)
		os.Exit(1)
	}
}
