package main

import "github.com/TheTechNetwork/admx-help/internal/cli"

func main() {
	cli.Execute()
}
