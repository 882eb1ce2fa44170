package main

import "github.com/marketbot/relay/cmd"

func main() {
	cmd.Execute()
}
