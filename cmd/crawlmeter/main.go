package main

import "crawlmeter/internal/cli"

func main() {
	cli.Execute()
}
