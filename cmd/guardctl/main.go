package main

import "github.com/turtacn/certguard/cmd/cli"

func main() {
	cli.Execute()
}
