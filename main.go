package main

import "agentdesk/internal/cli"

func main() {
	cli.Execute()
}
