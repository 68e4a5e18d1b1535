package main

import "github.com/hupe1980/sidekick/cli"

func main() {
	cli.Execute()
}
