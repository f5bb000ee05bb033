// Package pipeline implements the build pipeline for the means project based
// on Starlark for the task specification and mvdan.cc/sh for the shell
// runtime. The goal is a simple, portable runner that can drive the whole
// checkout/venv/test/docs cycle from a single tasks.star file.
package pipeline
