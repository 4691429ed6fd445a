// Package main provides the xiaozhi device simulator.
//
// Usage:
//
//	xiaozhi [flags] <command> [args]
//
// Commands:
//
//	run    - Run a simulated device against the configured dialogue service
//	config - Manage device contexts
//
// Configuration:
//
//	The CLI stores configuration in ~/.xiaozhi/xiaozhi/
//	Use 'xiaozhi config context' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/tengyuan2025/xiaozhi-esp32/cmd/xiaozhi/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
