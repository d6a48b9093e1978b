/*
Package cli provides command-line helpers for the costtrack command.

Exit Codes:

Commands return errors; main maps them to process exit codes with ExitCode:

	0  success
	1  validation error (bad flags, configuration or input)
	2  I/O error (store, files, network)
	3  partial result (a rebuild that touched some but not all scopes)

Output Formatting:

Results implement Table to print as aligned text or CSV, and are encoded
as JSON otherwise:

	formatter := cli.NewFormatter(cli.FormatCSV)
	if err := formatter.FormatTo(os.Stdout, rows); err != nil {
		return err
	}

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
