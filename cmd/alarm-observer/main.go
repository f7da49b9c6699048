package main

import "github.com/oshokin/alarm-bridge/cmd/alarm-observer/cmd"

func main() {
	cmd.Execute()
}
