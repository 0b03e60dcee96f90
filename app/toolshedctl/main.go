package main

import (
	"github.com/toolshed/toolshed/app/panichandler"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd"
)

func main() {
	defer panichandler.Recover("toolshedctl")
	cmd.Execute()
}
