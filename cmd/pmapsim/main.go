// Command pmapsim runs workloads against the physical map and serves a
// monitoring view of it.
package main

import "github.com/sarchlab/pmap/cmd/pmapsim/cmd"

func main() {
	cmd.Execute()
}
