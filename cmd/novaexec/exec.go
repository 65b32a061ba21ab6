package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tuannm99/novaexec"
	"github.com/tuannm99/novaexec/server/novaexecwire"
)

var execCmd = &cobra.Command{
	Use:   "exec SQL [ARG...]",
	Short: "Run one statement against the configured source",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := openClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = db.Close() }()

	stmt := normalizeStmt(args[0])
	params := make([]any, len(args)-1)
	for i, a := range args[1:] {
		params[i] = a
	}
	st := db.SQL(stmt).Args(params...)

	var res *novaexecwire.Result
	if isQuery(stmt) {
		res, err = novaexec.Query[*novaexecwire.Result](ctx, st, novaexecwire.Table)
	} else {
		var n int64
		n, err = st.Update(ctx)
		res = &novaexecwire.Result{AffectedRows: n}
	}
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}
