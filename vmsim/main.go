// Command vmsim runs workload scripts on the simulated virtual memory system.
package main

import "github.com/sarchlab/lazyvm/vmsim/cmd"

func main() {
	cmd.Execute()
}
