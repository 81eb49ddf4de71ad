package main

import "github.com/nextlevelbuilder/huddleclaw/cmd"

func main() {
	cmd.Execute()
}
