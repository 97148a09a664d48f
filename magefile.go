//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/sh"
)

const (
	binaryDir = "bin"
	goFlags   = "-v"
	ldFlags   = "-s -w"
)

// Build builds the hub binary.
func Build() error {
	fmt.Println("Building hub...")
	if err := os.MkdirAll(binaryDir, 0755); err != nil {
		return err
	}
	return sh.Run("go", "build", goFlags, "-ldflags", ldFlags, "-o", filepath.Join(binaryDir, "hub"), "./cmd/hub")
}

// Run runs the hub locally.
func Run() error {
	return sh.Run("go", "run", "./cmd/hub")
}

// Test runs all tests.
func Test() error {
	return sh.Run("go", "test", "-race", "./...")
}

// Lint vets the module.
func Lint() error {
	return sh.Run("go", "vet", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	return os.RemoveAll(binaryDir)
}
