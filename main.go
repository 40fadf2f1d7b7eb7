package main

import "github.com/jmehdipour/drip/cmd"

func main() {
	cmd.Execute()
}
