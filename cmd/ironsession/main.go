package main

import "github.com/jmcleod/ironsession/cmd/ironsession/cmd"

func main() {
	cmd.Execute()
}
