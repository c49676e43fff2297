package main

import "github.com/olegmukhin/thoughtgate/cmd/thoughtgate/cmd"

func main() {
	cmd.Execute()
}
