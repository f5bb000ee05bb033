package main

import "github.com/pihop/means/cmd"

func main() {
	cmd.Execute()
}
