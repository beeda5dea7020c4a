package main

import "foxden/internal/cli"

func main() {
	cli.Execute()
}
