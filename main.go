package main

import "github.com/yannicktuerk/F1-Lap-Bot/cmd"

func main() {
	cmd.Execute()
}
