package main

import "github.com/firewatch/fire-relay/cmd/fire-sensor-sim/cmd"

func main() {
	cmd.Execute()
}
