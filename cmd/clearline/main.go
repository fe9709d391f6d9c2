package main

import "github.com/clearline-network/clearline/internal/cli"

func main() {
	cli.Execute()
}
