package main

import (
	"fmt"

	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Pull the remote catalog",
	Long: `Fetch every entry of the remote catalog and merge it into the library.

Archives the catalog no longer lists are removed unless they are stored on
this device.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find ZIM files in the library directories",
	Args:  cobra.NoArgs,
	RunE:  runScan,
}

var addCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a ZIM file outside the library directories",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <archive-id>",
	Short: "Remove an archive from the library",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func init() {
	rootCmd.AddCommand(refreshCmd, scanCmd, addCmd, forgetCmd)

	refreshCmd.Flags().Bool("quiet", false, "do not print progress")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	quiet, _ := cmd.Flags().GetBool("quiet")
	progress := func(loaded, total int) {
		if !quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "\rLoaded %d/%d entries", loaded, total)
		}
	}

	res, err := a.Ingestor.Refresh(ctx, progress)
	if !quiet {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d archives in catalog: %d new, %d updated, %d removed\n",
		res.Fetched, res.Inserted, res.Updated, res.Removed)
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	res, err := a.Ingestor.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d archives on disk: %d new, %d missing, %d removed\n",
		res.Found, res.Added, res.Missing, res.Removed)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.Ingestor.AddFile(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", rec.Title, rec.ID)
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.Ingestor.Forget(args[0]) {
		return fmt.Errorf("%s: %w", args[0], domain.ErrArchiveNotFound)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", args[0])
	return nil
}
