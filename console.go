package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/calipso/calipso/internal/version"
)

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

func printBanner() {
	banner := color.New(color.FgCyan, color.Bold)
	banner.Fprintln(stdOut, "")
	banner.Fprintln(stdOut, "            _ _")
	banner.Fprintln(stdOut, "   ___ __ _| (_)_ __  ___  ___")
	banner.Fprintln(stdOut, "  / __/ _` | | | '_ \\/ __|/ _ \\")
	banner.Fprintln(stdOut, " | (_| (_| | | | |_) \\__ \\ (_) |")
	banner.Fprintln(stdOut, "  \\___\\__,_|_|_| .__/|___/\\___/")
	banner.Fprintln(stdOut, "               |_|")
	banner.Fprintln(stdOut, "")
}

func printListening(port int) {
	env := version.Environment(os.Getenv)
	value := color.New(color.FgGreen)
	fmt.Fprint(stdOut, "Calipso version: ")
	value.Fprintln(stdOut, version.Version)
	fmt.Fprint(stdOut, "Calipso server listening on port: ")
	value.Fprintln(stdOut, port)
	fmt.Fprint(stdOut, "Calipso configured for: ")
	value.Fprintf(stdOut, "%s environment.\n", env)
}
