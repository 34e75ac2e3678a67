package main

import "github.com/dydact/scrive-aci-sub002/cmd"

func main() {
	cmd.Execute()
}
