package main

import "github.com/rudransh-shrivastava/halozone/internal/cmd"

func main() {
	cmd.Execute()
}
