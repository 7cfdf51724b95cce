package main

import "github.com/vinayprograms/orderclaim/cli"

func main() {
	cli.Execute()
}
