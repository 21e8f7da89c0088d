package main

import "github.com/jmellberg/deployctl/cmd/deployctl/cli"

func main() {
	cli.Execute()
}
