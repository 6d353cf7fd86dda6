package main

import "github.com/nfrund/roomchat/cmd/roomchat/cmd"

func main() {
	cmd.Execute()
}
