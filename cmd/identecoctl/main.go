// Command identecoctl administers the provider's database.
package main

import (
	"os"

	"github.com/eldarion/identeco/cmd/identecoctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
