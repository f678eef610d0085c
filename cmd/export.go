package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var sinkName string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the result collection to local disk, GCS or Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if sinkName == "" {
				sinkName = a.Config().Export.Sink
			}
			sink, err := a.ExportSink(cmd.Context(), sinkName)
			if err != nil {
				return err
			}
			snapshot := a.Results()
			snapshot.Load(cmd.Context())
			result, err := sink.Export(cmd.Context(), snapshot)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s (%d new)\n",
				result.Records, locationOf(result.Location, result.Sink), result.Inserted)
			return nil
		},
	}
	cmd.Flags().StringVar(&sinkName, "sink", "", "export sink: local, gcs or postgres (default export.sink)")
	return cmd
}

func locationOf(location, sink string) string {
	if location == "" {
		return sink
	}
	return location
}
