// Package main provides the drydock binary.
//
// drydock resolves a service topology file into a deployment plan and drives
// a local Docker daemon to execute it.
//
// Usage:
//
//	drydock <command> [flags]
//
// Commands:
//
//	up       - Resolve a topology and start the deployment
//	down     - Stop and remove a deployment
//	ci       - Run the deployment pipeline (BUILD, RUN, TEST, LINT, CLEANUP)
//	status   - Print container status for a deployment
//	serve    - Run the status and history HTTP API
//	version  - Show version
package main

import (
	"fmt"
	"os"
	"runtime"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitConfigError = 1
	ExitPlanError   = 2
	ExitDockerError = 3
	ExitRunFailed   = 4
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: drydock <command> [flags]")
		fmt.Fprintln(os.Stderr, "commands: up, down, ci, status, serve, version")
		os.Exit(ExitConfigError)
	}

	os.Exit(dispatch(os.Args[1], os.Args[2:]))
}

// dispatch routes the command to the appropriate handler.
func dispatch(cmd string, args []string) int {
	switch cmd {
	case "up":
		return upCmd(args)
	case "down":
		return downCmd(args)
	case "ci":
		return ciCmd(args)
	case "status":
		return statusCmd(args)
	case "serve":
		return serveCmd(args)
	case "version":
		return versionCmd()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		return ExitConfigError
	}
}

// versionCmd handles the "version" command.
func versionCmd() int {
	fmt.Printf("drydock %s (built %s, %s)\n", Version, BuildTime, runtime.Version())
	return ExitSuccess
}
