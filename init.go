package main

import (
	"os"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/phobologic/archgraph/internal/config"
)

// newInitCmd implements `archgraph init`, which writes the default
// configuration file.
func newInitCmd() *cobra.Command {
	var (
		dryRun bool
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long: `Write the built-in configuration to a YAML file so it can be edited.

path defaults to ./` + config.DefaultPath + `. An existing file is left alone
unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Marshal(config.Default())
			if err != nil {
				return err
			}
			if dryRun {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			path := config.DefaultPath
			if len(args) > 0 {
				path = args[0]
			}
			return writeConfig(path, data, force, cmd)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the configuration instead of writing it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func writeConfig(path string, data []byte, force bool, cmd *cobra.Command) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return errors.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return errors.Errorf("writing %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return errors.Errorf("writing %s: %w", path, err)
	}
	cmd.PrintErrf("wrote default configuration to %s\n", path)
	return nil
}
