package main

import (
	"os"

	"github.com/mukasc/genexus-ai-assistant/cli"
)

func main() {
	os.Exit(cli.Execute())
}
