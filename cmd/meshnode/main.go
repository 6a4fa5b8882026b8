package main

import "github.com/colibri-net/meshstore/cmd/meshnode/cmd"

func main() {
	cmd.Execute()
}
