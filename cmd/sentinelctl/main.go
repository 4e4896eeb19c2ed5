// Command sentinelctl is the operator-facing client for sentineld: it
// speaks the same newline-delimited JSON-RPC protocol over the daemon's
// unix socket that the desktop/PAM integrations use, so anything this
// tool can do, a real caller can do too.
package main

import (
	"fmt"
	"os"

	"github.com/projectsentinel/sentineld/cmd/sentinelctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
