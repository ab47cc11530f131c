package main

import "prodbench/cmd"

func main() {
	cmd.Execute()
}
