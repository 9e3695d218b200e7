package main

import "videoterror/cmd"

func main() {
	cmd.Execute()
}
