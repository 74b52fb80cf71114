package main

import (
	"github.com/MLAN1O/atlas/cli"
	_ "github.com/MLAN1O/atlas/pkg/logger/autoload"
)

func main() {
	cli.Execute()
}
