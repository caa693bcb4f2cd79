package main

import "github.com/gocandle/canfilter/cmd/canfilter/cmd"

func main() {
	cmd.Execute()
}
