package main

import (
	"fmt"
	"os"
)

const usage = `usage: dmsflow [command]

commands:
  serve              run the HTTP API and scheduler (default)
  serve -mcp         serve MCP tools over stdio instead of HTTP
  validate <file>    validate a flow definition file
  init [flags]       write ~/.dmsflow/settings.json
  version            print the version
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		if err := runServe(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "validate":
		os.Exit(runValidate(args, os.Stdout))
	case "init":
		runInit(args)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}
