package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes. Database failures get their own code so supervisors can
// tell a corrupt data file from an ordinary startup error.
const (
	exitFailure  = 1
	exitDatabase = 2
)

var errDatabase = errors.New("database unavailable")

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errDatabase) {
			os.Exit(exitDatabase)
		}
		os.Exit(exitFailure)
	}
}
