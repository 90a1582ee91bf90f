package main

import (
	"github.com/TFMV/nestegg/internal/cli"
)

func main() {
	cli.Execute()
}
