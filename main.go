package main

import "github.com/ftl/panaweb/cmd"

func main() {
	cmd.Execute()
}
