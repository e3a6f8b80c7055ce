package main

import (
	_ "github.com/joho/godotenv/autoload"

	"github.com/davarch/ci-pilot/cmd/ci-pilot/cli"
)

func main() {
	cli.Execute()
}
