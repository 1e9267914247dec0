// Package main is the entry point for the neurofab-z1 cluster application.
// Flag parsing and mode execution are handled by the cmd package (Cobra).
package main

import (
	"github.com/ahtx/neurofab-z1-cluster/cmd"
)

func main() {
	cmd.Execute()
}
