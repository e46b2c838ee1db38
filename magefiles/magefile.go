//go:build mage

// Tools for building and testing consul-join.
package main

import (
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Builds consul-join and the fake agent into ./bin.
func Build() error {
	if err := sh.RunV("go", "build", "-o", "bin/consul-join", "."); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", "bin/fakeagent", "./fakeagent")
}

// Runs all tests.
// Tests are run with -race.
func Test() error {
	_, err := sh.Exec(nil, os.Stdout, os.Stderr, "go", "test", "./...", "-race", "-count=1")
	return err
}

// Vets, tests, then builds.
func All() {
	mg.SerialDeps(Vet, Test, Build)
}

// Runs go vet over every package.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}
