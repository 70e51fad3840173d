// Package main is the entry point for the sqlchart CLI, which turns
// natural-language questions into SQL queries and rendered charts.
package main

import (
	"sqlchart/cmd"
)

func main() {
	cmd.Execute()
}
