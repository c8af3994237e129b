package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/c360studio/docwriter/broker"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/service"
	"github.com/c360studio/docwriter/status"
	"github.com/c360studio/docwriter/store"
)

// connectService dials the running substrate and builds the service
// front door the CLI subcommands call.
func connectService(configPath string) (*service.Service, func(), error) {
	cfg, err := loadConfig(configPath, "error")
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name(appName+"-cli"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	cleanup := func() { nc.Close() }

	js, err := jetstream.New(nc)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	qb, err := broker.NewJetStreamBroker(ctx, js, cfg.Queues.Prefix,
		broker.WithLockDuration(cfg.Queues.LockDuration),
		broker.WithMaxDeliver(cfg.Queues.MaxDeliver),
		broker.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create broker: %w", err)
	}
	objects, err := store.NewJetStreamObjectStore(ctx, js, cfg.Pipeline.ArtifactBucket)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create object store: %w", err)
	}
	statusStore, err := store.NewJetStreamStatusStore(ctx, js)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create status store: %w", err)
	}

	publisher := status.NewPublisher(qb, logger)
	return service.New(qb, objects, statusStore, publisher, logger), cleanup, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func admitCmd(configPath *string) *cobra.Command {
	var (
		owner    string
		audience string
		cycles   int
		pages    int
		tone     string
	)
	cmd := &cobra.Command{
		Use:   "admit <topic>",
		Short: "Admit a new document job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := connectService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := svc.AdmitJob(cmd.Context(), owner, docjob.JobParams{
				Topic:        args[0],
				Audience:     audience,
				ReviewCycles: cycles,
				LengthPages:  pages,
				Tone:         tone,
			})
			if err != nil {
				return err
			}
			fmt.Printf("job admitted: %s\n", job.ID)
			fmt.Println("answer the intake questions with: docwriter answers", job.ID, "--owner", owner, "key=value ...")
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	cmd.Flags().StringVar(&audience, "audience", "", "Target audience")
	cmd.Flags().IntVar(&cycles, "cycles", 0, "Review cycles (default from config)")
	cmd.Flags().IntVar(&pages, "pages", 0, "Target length in pages")
	cmd.Flags().StringVar(&tone, "tone", "", "Writing tone")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func answersCmd(configPath *string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "answers <job-id> [key=value ...]",
		Short: "Submit intake answers and resume the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers := make(map[string]string)
			for _, kv := range args[1:] {
				key, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("answer %q is not key=value", kv)
				}
				answers[key] = value
			}

			svc, cleanup, err := connectService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.SubmitAnswers(cmd.Context(), owner, args[0], answers); err != nil {
				return err
			}
			fmt.Printf("answers submitted for %s (%d answers)\n", args[0], len(answers))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func statusCmd(configPath *string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's current stage and state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := connectService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			view, err := svc.GetStatus(cmd.Context(), owner, args[0])
			if err != nil {
				return err
			}
			return printJSON(view)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func timelineCmd(configPath *string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "timeline <job-id>",
		Short: "Show a job's event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := connectService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := svc.GetTimeline(cmd.Context(), owner, args[0])
			if err != nil {
				return err
			}
			for _, ev := range events {
				line := fmt.Sprintf("%s  %-16s %-14s", ev.TS.Format(time.RFC3339), ev.Stage, ev.Phase)
				if ev.Message != "" {
					line += "  " + ev.Message
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func listCmd(configPath *string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the owner's documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := connectService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			docs, err := svc.ListDocuments(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(docs)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func fetchCmd(configPath *string) *cobra.Command {
	var (
		owner   string
		out     string
		archive bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <job-id> [artifact-path]",
		Short: "Download a job artifact (or the diagram archive)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := connectService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			var data []byte
			switch {
			case archive:
				data, err = svc.FetchDiagramArchive(cmd.Context(), owner, args[0])
			case len(args) == 2:
				data, _, err = svc.FetchArtifact(cmd.Context(), owner, args[0], args[1])
			default:
				data, _, err = svc.FetchArtifact(cmd.Context(), owner, args[0], "final.md")
			}
			if err != nil {
				return err
			}

			if out == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes to %s\n", len(data), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to file instead of stdout")
	cmd.Flags().BoolVar(&archive, "diagrams", false, "Fetch the diagram source/image archive")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func resumeCmd(configPath *string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Re-enqueue a failed job's last stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := connectService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.ResumeFailed(cmd.Context(), owner, args[0]); err != nil {
				return err
			}
			fmt.Printf("job %s resumed\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
