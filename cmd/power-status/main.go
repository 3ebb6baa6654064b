package main

import "github.com/cptspacemanspiff/power-state/internal/cli"

func main() {
	cli.Execute()
}
