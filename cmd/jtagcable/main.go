package main

import "github.com/OpenTraceLab/jtagcable/cmd/jtagcable/cmd"

func main() {
	cmd.Execute()
}
