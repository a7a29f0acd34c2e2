package main

import "sqlrunner/cmd/cli"

func main() {
	cli.Execute()
}
