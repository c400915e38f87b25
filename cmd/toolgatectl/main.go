package main

import "go.pilab.hu/toolgate/cmd/toolgatectl/cmd"

func main() {
	cmd.Execute()
}
