package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "plugin":
		os.Exit(runPluginNoun(args))

	// --- VERBS ---
	case "query":
		if hasHelpFlag(args) {
			printQueryHelp()
			os.Exit(0)
		}
		os.Exit(runQuery(args))
	case "stats":
		if hasHelpFlag(args) {
			printStatsHelp()
			os.Exit(0)
		}
		os.Exit(runStats(args))
	case "start":
		os.Exit(runStart(args))
	case "version":
		fmt.Printf("quern version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`quern - plugin driven launcher

Usage:
  quern <noun> <action> [flags]
  quern <verb> [flags]

Resources (Nouns):
  system    Launcher lifecycle
  config    Configuration
  plugin    Plugin discovery and enablement

System Commands:
  system start          Run the launcher with the selected frontend

Config Commands:
  config check          Validate configuration
  config show           Print the resolved configuration

Plugin Commands:
  plugin list           Show discovered plugins
  plugin enable <id>    Enable and load a plugin
  plugin disable <id>   Disable and unload a plugin

Verbs:
  query <text...>       Run one query headless and print ranked results
  stats                 Show activation history
  version               Show version information
  help                  Show this help message

Use 'quern <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		printPluginNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printPluginNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printPluginListHelp()
			return 0
		}
		return runPluginList(actionArgs)
	case "enable", "disable":
		if hasHelpFlag(actionArgs) {
			printPluginToggleHelp(action)
			return 0
		}
		return runPluginToggle(actionArgs, action == "enable")
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: quern system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: quern config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printPluginNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: quern plugin <action>")
	fmt.Fprintln(w, "Actions: list, enable, disable")
}

func printSystemStartHelp() {
	fmt.Println("Usage: quern system start [--config PATH] [--frontend ID]")
	fmt.Println("Load enabled plugins and run the frontend until it exits.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: quern config check [--config PATH] [--json] [--strict]")
	fmt.Println("Validate configuration and cross-check it against discovered plugins.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: quern config show [--config PATH] [--json]")
	fmt.Println("Show the resolved configuration.")
}

func printPluginListHelp() {
	fmt.Println("Usage: quern plugin list [--config PATH] [--json]")
	fmt.Println("Show discovered plugins, their state and enablement.")
}

func printPluginToggleHelp(action string) {
	fmt.Printf("Usage: quern plugin %s <id> [--config PATH]\n", action)
	fmt.Println("Persist the preference and load or unload the plugin.")
}

func printQueryHelp() {
	fmt.Println("Usage: quern query [--config PATH] [--limit N] [--timeout D] [--activate ROW] [--json] <text...>")
	fmt.Println("Run one query without a frontend and print the ranked rows.")
}

func printStatsHelp() {
	fmt.Println("Usage: quern stats [--config PATH] [--days N] [--recent N]")
	fmt.Println("Show activations per day, handler runtimes and recent queries.")
}
