// Command repsvr runs one replication node: it ingests drone plots
// from a simulated antenna feed, gossips them to its configured peers,
// and runs the clock-skew deconfliction pass against the local store.
package main

func main() {
	Execute()
}
