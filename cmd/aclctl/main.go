// Package main provides aclctl, the CLI around the access-control
// engine: validating and watching a rule manifest, and checking that
// the characteristic-table database it depends on is reachable.
//
// Usage:
//
//	aclctl [flags] <command>
//
// Commands that touch the database (doctor) need --db or
// ACLENGINE_DATABASE_URL; validate and watch only need the manifest
// file.
package main

func main() {
	Execute()
}
