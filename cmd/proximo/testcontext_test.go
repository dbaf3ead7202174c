package main

import (
	"context"
	"testing"
)

// testContext stands in for testing.T.Context, which requires Go 1.24.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
