package main

import "github.com/nextlevelbuilder/cogent/cmd"

func main() {
	cmd.Execute()
}
