package main

import "github.com/andresmejia3/repform/cmd"

func main() {
	cmd.Execute()
}
