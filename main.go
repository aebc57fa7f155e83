package main

import (
	"github.com/fatihdgn/tstlpp-vita/cmd"
)

func main() {
	cmd.Execute()
}
