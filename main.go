// The main package for the marketscout executable.
package main

import (
	"os"

	"github.com/marketscout/crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
