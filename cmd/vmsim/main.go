// Command vmsim runs virtual-memory access traces through the simulator.
package main

func main() {
	Execute()
}
