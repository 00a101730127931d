// Package config provides process settings and the per-site configuration
// of sitemirror: exclusions, request headers and the document type table
// that drives link discovery and rewriting.
package config
