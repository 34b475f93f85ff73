package main

import (
	"github.com/lingomirror/lingomirror/cmd"
	"github.com/lingomirror/lingomirror/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
