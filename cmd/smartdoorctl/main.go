package main

import "github.com/BrandonDHaskell/smartdoor/cmd/smartdoorctl/cmd"

func main() {
	cmd.Execute()
}
