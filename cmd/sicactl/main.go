// sicactl issues one-shot add / get / remove / reset calls against a sica server, over the socket transport or the
// HTTP surface, and prints the server response as JSON.

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
