package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"synister/internal/blob"
	"synister/internal/pipeline"
	"synister/pkg/domain"
)

func (a *app) createCommand() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the record store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			return svc.Create(cmd.Context(), overwrite)
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Drop every existing record, predictions included")
	return cmd
}

func (a *app) ingestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file]",
		Short: "Add synapses from JSON lines (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			svc, closeStore, err := a.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			n, err := ingest(cmd.Context(), svc, in)
			a.logger.Info("ingest finished", zap.Int("synapses", n))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d synapses\n", n)
			return nil
		},
	}
}

func (a *app) makeSplitCommand() *cobra.Command {
	var train, test []int64
	cmd := &cobra.Command{
		Use:   "make-split <name>",
		Short: "Label synapses as train or test within a named split",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			n, err := svc.MakeSplit(cmd.Context(), args[0], train, test)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "labelled %d synapses in split %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&train, "train", nil, "Synapse ids labelled train")
	cmd.Flags().Int64SliceVar(&test, "test", nil, "Synapse ids labelled test")
	return cmd
}

type splitListing struct {
	Split string  `json:"split"`
	Train []int64 `json:"train"`
	Test  []int64 `json:"test"`
}

func (a *app) readSplitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read-split <name>",
		Short: "Print the train and test synapse ids of a split",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			train, test, err := svc.ReadSplit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := splitListing{Split: args[0], Train: synapseIDs(train), Test: synapseIDs(test)}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func (a *app) groupingsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "groupings <split>",
		Short: "List the grouping classes a split yields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			classes, err := svc.GroupingClasses(cmd.Context(), args[0], a.cfg.Predict.ExcludedSkeletons)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			for _, c := range classes {
				fmt.Fprintf(w, "%s\t%d\n", c.SuperID, c.TrainSynapses)
			}
			return w.Flush()
		},
	}
}

func (a *app) predictCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "predict <worker-id> <total-workers>",
		Short: "Predict this worker's share of the pending locations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workerID, err := strconv.Atoi(args[0])
			if err != nil {
				return domain.ValidationError{Field: "worker_id", Reason: "must be an integer"}
			}
			totalWorkers, err := strconv.Atoi(args[1])
			if err != nil {
				return domain.ValidationError{Field: "total_workers", Reason: "must be an integer"}
			}
			if a.deps.loader == nil || a.deps.raw == nil {
				return fmt.Errorf("predict: no classifier backend linked into this binary")
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			svc, closeStore, err := a.openService()
			if err != nil {
				return err
			}
			defer closeStore()
			blobs, err := blob.Open(ctx, a.cfg.Blob)
			if err != nil {
				return fmt.Errorf("open blob store: %w", err)
			}
			metrics, err := pipeline.NewMetrics(a.registry)
			if err != nil {
				return err
			}
			driver := pipeline.NewDriver(svc, a.cfg.Predict, a.deps.loader, a.deps.raw, blobs,
				pipeline.WithLogger(a.logger), pipeline.WithMetrics(metrics))
			report, err := driver.Run(ctx, workerID, totalWorkers)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func synapseIDs(synapses []domain.Synapse) []int64 {
	ids := make([]int64, 0, len(synapses))
	for _, s := range synapses {
		ids = append(ids, s.SynapseID)
	}
	return ids
}
