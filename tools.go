//go:build tools

// Package tools pins the linters and vulnerability scanner used in CI.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/vuln/cmd/govulncheck"
)
