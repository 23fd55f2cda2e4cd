package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/modoterra/devconsole/pkg/config"
	"github.com/modoterra/devconsole/pkg/config/presets"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, check and inspect " + config.FileName,
}

var configInitFlags struct {
	root   string
	output string
	force  bool
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate " + config.FileName + " for a project",
	Long:  "Detect log files, Procfile entries and framework workers under the project root and write a starting configuration.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := presets.Generate(configInitFlags.root)
		if err != nil {
			return err
		}
		out := configInitFlags.output
		if out == "" {
			out = filepath.Join(c.Root, config.FileName)
		}
		if !configInitFlags.force {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		if err := config.Save(c, out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d sources, %d processes)\n", out, len(c.Logs.Sources), len(c.Daemon.Exec))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath(args)
		if err != nil {
			return err
		}
		c, err := config.Load(path)
		if err != nil {
			return err
		}
		if errs := config.Validate(c); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  ✗ %v\n", e)
			}
			return errSilent
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid ✓\n", path)
		return nil
	},
}

var configShowJSON bool

var configShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Print the effective configuration",
	Long:  "Print the configuration with defaults applied and DEVCONSOLE_* environment overrides merged in.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var c *config.Config
		if path, err := configPath(args); err == nil {
			if c, err = config.Load(path); err != nil {
				return err
			}
		} else if len(args) == 0 {
			c = config.Default()
		} else {
			return err
		}
		config.FromEnv(c)
		if configShowJSON {
			return printJSON(cmd.OutOrStdout(), c)
		}
		data, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		highlight(cmd.OutOrStdout(), string(data), "yaml")
		return nil
	},
}

// configPath returns the explicit path argument or the nearest
// configuration file above the working directory.
func configPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if path, ok := config.Find(wd); ok {
		return path, nil
	}
	return "", fmt.Errorf("no %s found in %s or its parents", config.FileName, wd)
}

func init() {
	configInitCmd.Flags().StringVar(&configInitFlags.root, "root", ".", "project root directory")
	configInitCmd.Flags().StringVarP(&configInitFlags.output, "output", "o", "", "output path (default <root>/"+config.FileName+")")
	configInitCmd.Flags().BoolVar(&configInitFlags.force, "force", false, "overwrite an existing file")
	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "print as JSON")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
