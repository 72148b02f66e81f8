// protoorch runs the echo protocol on top of the orchestration layer.
//
// Usage:
//
//	protoorch serve    [--config file] [--listen addr] [--transport tcp|ws]
//	protoorch dial     [--config file] [--addr addr] [--count n] [--text s] [--mode n]
//	protoorch browse   [--timeout d]
//	protoorch validate --config file
//
// Example:
//
//	protoorch serve --transport ws --listen :8080
//	protoorch dial --transport ws --addr ws://127.0.0.1:8080/ --count 3
package main

func main() {
	Execute()
}
