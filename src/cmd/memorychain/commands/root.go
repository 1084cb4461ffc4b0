package commands

import (
	"github.com/mosaicnetworks/memorychain/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

// RootCmd is the root command for memorychain
var RootCmd = &cobra.Command{
	Use:              "memorychain",
	Short:            "shared memory and task ledger for agent nodes",
	TraverseChildren: true,
}
