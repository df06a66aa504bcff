// Package csp carries the release metadata of the Cassandra Snapshot Publisher.
//
// The implementation lives under internal/ and is only reachable through the
// csp command.
package csp

import (
	_ "embed"
	"strings"
)

// Release metadata.
const (
	Name        = "csp"
	Version     = "1.0"
	Description = "Cassandra Snapshot Publisher"
	URL         = "https://github.com/beobal/csp"
	License     = "Apache-2.0"
)

//go:embed README
var readme string

// LongDescription returns the README shipped with the binary.
func LongDescription() string {
	return strings.TrimSpace(readme)
}

// UserAgent is sent with every outgoing HTTP request.
func UserAgent() string {
	return Name + "/" + Version
}
