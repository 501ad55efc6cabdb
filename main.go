package main

import "github.com/nextlevelbuilder/fable/cmd"

func main() {
	cmd.Execute()
}
