package main

import (
	"os"
)

const (
	serviceName    = "id-reconciler"
	serviceVersion = "1.0.0"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command line and maps the outcome to an exit code
func run(args []string) int {
	root := newRootCmd(os.Stdout)
	root.SetArgs(args)

	err := root.Execute()
	if err != nil {
		printError(os.Stderr, err)
	}
	return exitCode(err)
}
