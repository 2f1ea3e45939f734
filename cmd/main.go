package main

import "github.com/privtrain/privtrain/cmd/cli"

func main() {
	cli.Execute()
}
