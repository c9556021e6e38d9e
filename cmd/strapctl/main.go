package main

import (
	"github.com/wristware/straplink/pkg/cli/sh"
	env "github.com/wristware/straplink/pkg/env/host"

	_ "github.com/wristware/straplink/pkg/cli/cmds/attrs"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
