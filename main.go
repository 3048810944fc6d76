package main

import (
	"constellation-sync/cmd"
)

func main() {
	cmd.Execute()
}
