package main

import "github.com/leadline-io/leadline/cmd"

func main() {
	cmd.Execute()
}
