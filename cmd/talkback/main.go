// talkback is a conversational English-practice client.
package main

import (
	"os"

	"github.com/teslashibe/go-talkback/cmd/talkback/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
