// Command fte runs and supervises the Digital FTE engine.
package main

func main() {
	Execute()
}
