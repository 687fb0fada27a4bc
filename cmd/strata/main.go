// Package main is the entry point for the strata server.
package main

func main() {
	Execute()
}
