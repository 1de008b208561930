package main

import "adforge/cmd"

func main() {
	cmd.Execute()
}
