// Command admin runs maintenance tasks against the koffers database:
// migrations, manual syncs, receipt matching and processing.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
