package main

import "mast-uitest/cmd"

func main() {
	cmd.Execute()
}
