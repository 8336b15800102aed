// ventsim meshes the environment around building geometry and runs a steady
// wind simulation over it with OpenFOAM.
//
// Build with: go build -ldflags "-X github.com/rescale/ventsim/internal/version.Version=..."
package main

import (
	"os"

	"github.com/rescale/ventsim/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
