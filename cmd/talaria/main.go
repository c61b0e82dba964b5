package main

import (
	"github.com/codecanvas/talaria/pkg/cmd"
	"github.com/codecanvas/talaria/pkg/cmd/talaria"
)

func main() {
	if err := talaria.NewCommand().Execute(); err != nil {
		cmd.ExitWithErr(err)
	}
}
