package main

import "github.com/akinalp/threadline/cmd/chatcli/cmd"

func main() {
	cmd.Execute()
}
