// Command vecrank indexes a directory of text files and ranks them against
// a query by cosine similarity, on the CPU or on a GPU.
//
// Usage:
//
//	vecrank index ./texts
//	vecrank query "console.log()" --backend accelerator --top 5
//	vecrank parity --lengths 4,255,256,257,10000
//	vecrank devices
//	vecrank watch ./texts --metrics-addr :9090
//
// Configuration is read from ./.vecrank.yaml, ~/.config/vecrank/config.yaml
// and VECRANK_* environment variables; flags override both.
package main

import (
	"os"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
