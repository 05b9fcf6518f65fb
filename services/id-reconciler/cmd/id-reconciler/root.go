package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
)

// options holds the parsed command line
type options struct {
	configPath  string
	collections []string
	reportPath  string

	execute       bool
	batchSize     int
	pruneOrphans  bool
	ensureIndexes bool
	journalPath   string
}

func (o *options) mode() entity.Mode {
	if o.execute {
		return entity.ModeExecute
	}
	return entity.ModeDryRun
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   serviceName,
		Short: "Reconcile legacy internal-id references to string ids",
		Long: `Detect and rewrite reference fields that still hold database-internal ids
instead of the string ids of the entities they point to.

Without --execute nothing is written: the run reports what it would change.`,
		Version:       serviceVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, out)
		},
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return withExitCode(exitUsage, err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Directory containing config.yaml")
	pf.StringSliceVar(&opts.collections, "collection", nil, "Limit the run to these collections (repeatable, default all)")
	pf.StringVar(&opts.reportPath, "report", "", "Also write the result as JSON to this path")

	addReconcileFlags(root, opts)

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Backfill ids, rewrite legacy references and merge duplicates",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, out)
		},
	}
	addReconcileFlags(reconcileCmd, opts)

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every reference resolves to a string id (read-only)",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts, out, false)
		},
	}
	verifyCmd.Flags().BoolVar(&opts.execute, "execute", false, "Rejected: verification never writes")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Print per-field classification counts and samples (read-only)",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts, out, true)
		},
	}

	root.AddCommand(reconcileCmd, verifyCmd, scanCmd)
	return root
}

func addReconcileFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.BoolVar(&opts.execute, "execute", false, "Apply the changes (default is a dry run)")
	f.IntVar(&opts.batchSize, "batch-size", 0, "Documents per write batch (overrides reconcile.batch_size)")
	f.BoolVar(&opts.pruneOrphans, "prune-orphans", false, "Delete relationship rows whose references resolve to nothing (execute only)")
	f.BoolVar(&opts.ensureIndexes, "ensure-indexes", false, "Create missing unique indexes after deduplication (execute only)")
	f.StringVar(&opts.journalPath, "journal", "", "Write before-images of modified documents to this file (execute only)")
}

// noArgs rejects positional arguments as a usage error
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return withExitCode(exitUsage, err)
	}
	return nil
}
