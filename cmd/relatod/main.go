// Command relatod runs the relato background daemon: the pipeline manager
// and the retention sweeper over the shared store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
