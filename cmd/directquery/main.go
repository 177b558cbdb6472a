// directquery serves passthrough queries against Prometheus-compatible
// data sources addressed by name.
package main

func main() {
	Execute()
}
