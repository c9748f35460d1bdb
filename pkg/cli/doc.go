/*
Package cli provides helpers shared by the aigate commands.

Output Formatting:

Commands accept --output text|json|csv. Tabular results are built as a
Table and rendered by the matching formatter:

	table := &cli.Table{Headers: []string{"tenant", "used", "quota"}}
	table.Append("garage-42", cli.Count(used), cli.Quota(q))
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, table); err != nil {
		return err
	}

Progress Reporting:

Long exports report progress on stderr:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(total)
	progress.Update(written)
	progress.Finish()

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

Exit Codes:

cli.ExitCode maps command errors to exit codes; configuration errors exit
with 2.
*/
package cli
