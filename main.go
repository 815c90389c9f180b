package main

import "gridjobs/cmd"

func main() {
	cmd.Run()
}
