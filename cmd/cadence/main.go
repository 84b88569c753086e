package main

import "github.com/tablelift/cadence/internal/cli"

func main() {
	cli.Execute()
}
