package main

import "github.com/guimove/hpcfit/cmd"

func main() {
	cmd.Execute()
}
