package main

import "github.com/sahithikokkula/verdict-aqe/pkg/cmd"

func main() {
	cmd.Execute()
}
