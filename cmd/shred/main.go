// Command shred turns solicitation text into a compliance matrix on a local
// database.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
