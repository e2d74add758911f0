package lmc

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/linaro/imagetools/internal/download"
	"github.com/linaro/imagetools/internal/hwpack"
	"github.com/linaro/imagetools/internal/hwpack/recipe"
	"github.com/spf13/cobra"
)

func hwpackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hwpack",
		Short: "Work with hardware packs",
	}
	cmd.AddCommand(hwpackBuildCmd())
	return cmd
}

type hwpackBuildImplConfig struct {
	localDebs []string
	out       string
	retries   int
}

func hwpackBuildCmd() *cobra.Command {
	var impl hwpackBuildImplConfig
	cmd := &cobra.Command{
		Use:   "build <recipe> <version>",
		Short: "Build hardware packs from a recipe",
		Long: `Build one hardware pack per architecture named in the recipe.

Packages are downloaded from the APT sources listed in the recipe. Local
.deb files given with --local-deb take precedence over packages of the same
name from any source, regardless of version.

Examples:
  % lmc hwpack build panda.cfg 20110302
  % lmc hwpack build panda.cfg 20110302 --local-deb u-boot-linaro-omap4-panda_2011.03-1_armel.deb
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringArrayVar(&impl.localDebs, "local-deb", nil, "use this .deb instead of the package of the same name from the sources (repeatable)")
	cmd.Flags().StringVar(&impl.out, "out", ".", "directory to write the hardware packs to")
	cmd.Flags().IntVar(&impl.retries, "retries", 3, "number of times to retry failed HTTP requests")
	return cmd
}

func (r *hwpackBuildImplConfig) run(ctx context.Context, args []string, stdout io.Writer) error {
	rc, err := recipe.ParseFile(args[0])
	if err != nil {
		return err
	}
	localDebs := make([]string, len(r.localDebs))
	for i, fn := range r.localDebs {
		if localDebs[i], err = filepath.Abs(fn); err != nil {
			return err
		}
	}
	b := &hwpack.Builder{
		Recipe:    rc,
		Version:   args[1],
		LocalDebs: localDebs,
		Transport: download.New(r.retries),
		OutDir:    r.out,
	}
	paths, err := b.Build(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(stdout, p)
	}
	return nil
}
