package main

import "github.com/alec-rabold/zippeek/cmd"

var (
	// VERSION is set during build
	VERSION = "0.1.0"
)

func main() {
	cmd.Execute(VERSION)
}
