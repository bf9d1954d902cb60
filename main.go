package main

import (
	"github.com/luma/msnp/cmd"
)

func main() {
	cmd.Execute()
}
