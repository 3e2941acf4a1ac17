package main

import "github.com/klasslink/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
