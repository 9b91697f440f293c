// Command refstore inspects and maintains a reference data store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "0.3.0"

var (
	rootCmd = &cobra.Command{
		Use:   "refstore",
		Short: "inspect and maintain an off-heap reference data store",
		Long: fmt.Sprintf(`refstore (v%s)

Loads, queries and purges reference data maps kept in a local Bolt or
LevelDB store. Every flag can also be set through a REFSTORE_* environment
variable or a .env file.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: bindFlags,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of refstore",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("refstore v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	setupStoreFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(purgeOldCmd)
	rootCmd.AddCommand(purgePartialCmd)
	rootCmd.AddCommand(metricsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
