package main

import (
	_ "github.com/swang430/skills-pool/pkg/agents/all"
	"github.com/swang430/skills-pool/pkg/cmd"
)

func main() {
	cmd.Execute()
}
