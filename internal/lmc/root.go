// Package lmc implements the lmc command line interface.
package lmc

import (
	"fmt"
	"os"

	"github.com/linaro/imagetools/internal/failure"
	"github.com/linaro/imagetools/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func RootCmd() *cobra.Command {
	var verbose bool
	rootCmd := &cobra.Command{
		Use:   "lmc",
		Short: "build bootable images and hardware packs for ARM boards",
		Long: `The lmc tool creates bootable media for ARM development boards:

1. Write a root filesystem and hardware packs to an SD card or image file (lmc image),
2. Build hardware packs from a recipe (lmc hwpack build),
3. List the supported boards (lmc boards).
`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			versionVal, err := cmd.Flags().GetBool("version")
			if err != nil {
				return fmt.Errorf("BUG: version flag declared as non-bool")
			}
			if versionVal {
				fmt.Fprintln(cmd.OutOrStdout(), version.Read())
				return nil
			}
			return pflag.ErrHelp
		},
	}
	rootCmd.Flags().Bool("version", false, "print lmc version")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every executed command")
	rootCmd.AddCommand(imageCmd())
	rootCmd.AddCommand(hwpackCmd())
	rootCmd.AddCommand(boardsCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// Execute runs lmc and exits with a status identifying the failure kind.
func Execute() {
	if err := RootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failure.Describe(err))
		os.Exit(failure.ExitCode(err))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print lmc version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Read())
			return nil
		},
	}
}
