// The main package for the gf-menu-scanner executable.
package main

import (
	"github.com/JakeFAU/gf-menu-scanner/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
