// Package main contains the CLI implementation of the tool. It uses the
// cobra package for CLI tool implementation, the same structure the
// teacher's own cmd/smf/main.go uses: one rootCmd, one *cobra.Command
// plus a small flags struct per subcommand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	appcontext "flexilite/internal/context"
	"flexilite/internal/audit"
	"flexilite/internal/config"
	"flexilite/internal/engine"
	"flexilite/internal/store"
	"flexilite/internal/validator"
)

type commonFlags struct {
	configPath string
	dsn        string
	timeout    int
}

type createClassFlags struct {
	commonFlags
	name string
	file string
}

type alterClassFlags struct {
	commonFlags
	name string
	file string
	mode string
}

type dropClassFlags struct {
	commonFlags
	name string
	soft bool
}

type renameClassFlags struct {
	commonFlags
	oldName string
	newName string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "flexilite",
		Short: "EAV class schema engine",
	}

	rootCmd.AddCommand(createClassCmd())
	rootCmd.AddCommand(alterClassCmd())
	rootCmd.AddCommand(dropClassCmd())
	rootCmd.AddCommand(renameClassCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command, f *commonFlags) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to a TOML engine configuration file")
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "Substrate DSN (overrides the config file)")
	cmd.Flags().IntVar(&f.timeout, "timeout", 30, "Operation timeout in seconds")
}

func createClassCmd() *cobra.Command {
	flags := &createClassFlags{}
	cmd := &cobra.Command{
		Use:   "create-class",
		Short: "Create a new class from a JSON definition file",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runCreateClass(flags)
		},
	}
	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().StringVar(&flags.name, "name", "", "Class name")
	cmd.Flags().StringVar(&flags.file, "file", "", "Path to the class definition JSON document")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runCreateClass(flags *createClassFlags) error {
	eng, cctx, cancel, err := bootstrap(flags.commonFlags)
	if err != nil {
		return err
	}
	defer cancel()
	defer cctx.Close()

	def, err := os.ReadFile(flags.file)
	if err != nil {
		return fmt.Errorf("read definition file %q: %w", flags.file, err)
	}

	ctx, done := context.WithTimeout(context.Background(), time.Duration(flags.timeout)*time.Second)
	defer done()

	cd, err := eng.CreateClass(ctx, cctx, flags.name, def)
	if err != nil {
		return err
	}
	fmt.Printf("created class %q with %d properties\n", cd.Name.Text, len(cd.PropMap))
	return nil
}

func alterClassCmd() *cobra.Command {
	flags := &alterClassFlags{}
	cmd := &cobra.Command{
		Use:   "alter-class",
		Short: "Alter an existing class from a JSON definition file",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAlterClass(flags)
		},
	}
	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().StringVar(&flags.name, "name", "", "Class name")
	cmd.Flags().StringVar(&flags.file, "file", "", "Path to the new class definition JSON document")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "Validation mode: abort, ignore, mark (default from config)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runAlterClass(flags *alterClassFlags) error {
	eng, cctx, cancel, err := bootstrap(flags.commonFlags)
	if err != nil {
		return err
	}
	defer cancel()
	defer cctx.Close()

	def, err := os.ReadFile(flags.file)
	if err != nil {
		return fmt.Errorf("read definition file %q: %w", flags.file, err)
	}

	ctx, done := context.WithTimeout(context.Background(), time.Duration(flags.timeout)*time.Second)
	defer done()

	cd, err := eng.AlterClass(ctx, cctx, flags.name, def, validator.Mode(flags.mode))
	if err != nil {
		return err
	}
	fmt.Printf("altered class %q, now %d properties\n", cd.Name.Text, len(cd.PropMap))
	return nil
}

func dropClassCmd() *cobra.Command {
	flags := &dropClassFlags{}
	cmd := &cobra.Command{
		Use:   "drop-class",
		Short: "Drop a class",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDropClass(flags)
		},
	}
	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().StringVar(&flags.name, "name", "", "Class name")
	cmd.Flags().BoolVar(&flags.soft, "soft", false, "Soft-delete instead of removing the class outright")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runDropClass(flags *dropClassFlags) error {
	eng, cctx, cancel, err := bootstrap(flags.commonFlags)
	if err != nil {
		return err
	}
	defer cancel()
	defer cctx.Close()

	ctx, done := context.WithTimeout(context.Background(), time.Duration(flags.timeout)*time.Second)
	defer done()

	if err := eng.DropClass(ctx, cctx, flags.name, flags.soft); err != nil {
		return err
	}
	fmt.Printf("dropped class %q (soft=%v)\n", flags.name, flags.soft)
	return nil
}

func renameClassCmd() *cobra.Command {
	flags := &renameClassFlags{}
	cmd := &cobra.Command{
		Use:   "rename-class",
		Short: "Rename a class",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runRenameClass(flags)
		},
	}
	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().StringVar(&flags.oldName, "name", "", "Current class name")
	cmd.Flags().StringVar(&flags.newName, "to", "", "New class name")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runRenameClass(flags *renameClassFlags) error {
	eng, cctx, cancel, err := bootstrap(flags.commonFlags)
	if err != nil {
		return err
	}
	defer cancel()
	defer cctx.Close()

	ctx, done := context.WithTimeout(context.Background(), time.Duration(flags.timeout)*time.Second)
	defer done()

	cd, err := eng.RenameClass(ctx, cctx, flags.oldName, flags.newName)
	if err != nil {
		return err
	}
	fmt.Printf("renamed class to %q\n", cd.Name.Text)
	return nil
}

// bootstrap loads config, opens the substrate store and wires one
// Engine plus one connection Context, the shape every subcommand needs.
func bootstrap(f commonFlags) (*engine.Engine, *appcontext.Context, func(), error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	dsn := f.dsn
	if dsn == "" {
		dsn = cfg.Substrate.DSN
	}
	if dsn == "" {
		return nil, nil, nil, fmt.Errorf("no substrate DSN given (use --dsn or the config file's [substrate].dsn)")
	}

	st, err := store.Open(dsn)
	if err != nil {
		return nil, nil, nil, err
	}

	auditLog := audit.New(os.Stderr)
	eng := engine.New(st, engine.Options{Applier: cfg.ApplierOptions()}, auditLog)

	cctx, err := appcontext.New(st, appcontext.Principal{Name: currentUser()})
	if err != nil {
		_ = st.Close()
		return nil, nil, nil, err
	}

	cancel := func() { _ = st.Close() }
	return eng, cctx, cancel, nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "flexilite-cli"
}
