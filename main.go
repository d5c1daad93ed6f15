package main

import "github.com/andresmejia3/greeter/cmd"

func main() {
	cmd.Execute()
}
