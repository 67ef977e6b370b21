package main

import "github.com/dpup/convoy-nav/server/cmd/nav-replay/cmd"

func main() {
	cmd.Execute()
}
