package main

import (
	"github.com/andresmejia3/blurface/cmd"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Execute()
}
