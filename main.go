package main

import "github.com/Ebycow/famista/cmd"

func main() {
	cmd.Execute()
}
