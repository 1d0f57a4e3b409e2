// Command cmipcat catalogs a CMIP archive and serves queries against it.
package main

import (
	"os"

	"cmipcat/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
