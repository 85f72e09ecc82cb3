package main

import "github.com/andresmejia3/gatekeeper/cmd"

func main() {
	cmd.Execute()
}
