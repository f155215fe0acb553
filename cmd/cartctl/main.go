// Command cartctl drives a local cart from the terminal. The cart lives in a
// durable store shared with other cartctl processes and mirrors itself to the
// cart server while a user is signed in.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
