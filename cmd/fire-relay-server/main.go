package main

import "github.com/firewatch/fire-relay/cmd/fire-relay-server/cmd"

func main() {
	cmd.Execute()
}
