package main

import "github.com/roach88/chronicle/internal/cli"

func main() {
	cli.Execute()
}
