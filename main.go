package main

import "github.com/Tiliavir/tab-tracker/cmd"

func main() {
	cmd.Execute()
}
