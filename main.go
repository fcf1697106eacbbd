package main

import "github.com/variantdev/fleet/cmd"

func main() {
	cmd.Execute()
}
