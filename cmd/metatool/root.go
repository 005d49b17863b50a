package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	appName    = "metatool"
	appVersion = "0.1.0"
)

// NewRootCommand builds the CLI: serve is the main entrypoint, version
// prints build info.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Meta-tool gateway: one catalog, many tool providers",
		Long: "metatool serves a searchable tool catalog over JSON-RPC.\n" +
			"Internal feature managers (memory, planning, tdd, guide, agents,\n" +
			"science) and external stdio providers share one namespace; callers\n" +
			"discover tools with list_tools and invoke them with call_tool.",
		SilenceUsage: true,
	}

	viper.SetEnvPrefix("METATOOL")
	viper.AutomaticEnv()
	_ = viper.BindEnv("db_path", "METATOOL_DB_PATH", "DB_PATH")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			bold := color.New(color.Bold).SprintFunc()
			fmt.Printf("%s %s\n", bold(appName), appVersion)
		},
	}
}
