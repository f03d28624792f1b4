package main

import "taowatcher/internal/cli"

func main() {
	cli.Execute()
}
