// Package report renders site listings and link inventories.
//
// Three writers implement the Writer interface:
//   - TextWriter: aligned columns for the terminal
//   - MarkdownWriter: tables and a status chart for sharing
//   - JSONWriter: structured output for other tools
//
// NewWriter picks one by the name given to --format.
package report
