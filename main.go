package main

import "github.com/pders01/git-rewind/cmd"

func main() {
	cmd.Execute()
}
