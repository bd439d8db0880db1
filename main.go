package main

import "github.com/campusware/rollcall/cmd"

func main() {
	cmd.Execute()
}
