package main

import "ferret/cmd"

func main() {
	cmd.Execute()
}
