package main

import "github.com/jmehdipour/city-sync/cmd"

func main() {
	cmd.Execute()
}
