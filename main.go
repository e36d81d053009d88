package main

import "mondain/cmd"

func main() {
	cmd.Execute()
}
