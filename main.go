package main

import "github.com/bryan-buckman/roadtrip/internal/cli"

func main() {
	cli.Execute()
}
