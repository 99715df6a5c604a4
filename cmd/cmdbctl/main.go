// Package main is the entry point for cmdbctl, the operator-facing CLI
// that drives the CMDB core service over its HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/unifiedcmdb/cmdb-core/cmd/cmdbctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cmdbctl: %v\n", err)
		os.Exit(1)
	}
}
