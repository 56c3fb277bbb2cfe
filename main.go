package main

import (
	"fmt"
	"os"

	"respguard/cmd"
)

func main() {
	if err := cmd.Execute(GetBuildInfo()); err != nil {
		fmt.Fprintf(os.Stderr, "respguard: %v\n", err)
		os.Exit(1)
	}
}
