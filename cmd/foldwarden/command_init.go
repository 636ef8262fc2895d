package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"foldwarden/internal/config"
	"foldwarden/internal/console"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit()
	},
}

func registerInitCommand(root *cobra.Command) {
	root.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit() error {
	path := cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	if path == "" {
		return fmt.Errorf("cannot determine home directory; pass --config")
	}

	con := console.New()
	if _, err := os.Stat(path); err == nil && !initForce {
		con.Printf("Config already exists at %s", path)
		con.Printf("%s", con.Dim("Re-run with --force to overwrite it."))
		return nil
	}

	if err := config.Default().WriteFile(path); err != nil {
		return err
	}

	con.Printf("Config created at %s", con.Good(path))
	con.Printf("")
	con.Printf("Edit this file to set:")
	con.Printf("  1. Fold backend (local colabfold_batch or docker)")
	con.Printf("  2. AI provider and API key file")
	con.Printf("  3. Contact email for UniProt and NCBI requests")
	con.Printf("")
	con.Printf("Then run: %s to verify", con.Good("foldwarden status"))
	return nil
}
