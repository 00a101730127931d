// Package main provides the entry point for the sitemirror CLI.
//
// sitemirror crawls a website into a local content store and maintains the
// mirror: listing, relinking, renaming, deduplicating, optimizing, copying
// and exporting it.
//
// Usage:
//
//	sitemirror crawl https://example.com/
//	sitemirror ls example.com
//	sitemirror export example.com ./out
//
// See --help for all available options.
package main

func main() {
	Execute()
}
