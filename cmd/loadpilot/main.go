package main

import "loadpilot/cmd"

func main() {
	cmd.Execute()
}
