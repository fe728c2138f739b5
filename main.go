// The main package for the rankcollector executable.
package main

import (
	"github.com/JakeFAU/keyword-rank-collector/cmd"
)

func main() {
	cmd.Execute()
}
