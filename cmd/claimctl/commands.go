package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"policy-claims/backend/internal/api"
	"policy-claims/backend/internal/config"
	"policy-claims/backend/internal/ingest"
	"policy-claims/backend/internal/pipeline"
	"policy-claims/backend/internal/rules"
	"policy-claims/backend/internal/slots"
)

// cli carries the flags shared by every subcommand and the lazily built
// in-process service.
type cli struct {
	cfg     config.Config
	verbose bool
	server  *api.Server
}

func newRootCommand() (*cobra.Command, *cli) {
	c := &cli{cfg: config.Load()}

	root := &cobra.Command{
		Use:           "claimctl",
		Short:         "Policy claim decisions from the command line",
		Long:          "Ingest policy documents, run claim queries and inspect stored results without the HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&c.cfg.DBPath, "db", c.cfg.DBPath, "path to the SQLite database")
	root.PersistentFlags().StringVar(&c.cfg.RulesPath, "rules", c.cfg.RulesPath, "YAML file with rule thresholds")
	root.PersistentFlags().BoolVar(&c.cfg.DisableAI, "offline", c.cfg.DisableAI, "use the offline reasoner")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log pipeline progress")

	root.AddCommand(c.ingestCommand())
	root.AddCommand(c.queryCommand())
	root.AddCommand(c.showCommand())
	root.AddCommand(c.listCommand())
	root.AddCommand(c.rulesCommand())
	return root, c
}

func (c *cli) ingestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a policy document",
		Long:  "Segment and index a PDF, DOCX or text document; it replaces the active document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			format, err := ingest.DetectFormat(path)
			if err != nil {
				return err
			}
			srv, err := c.open()
			if err != nil {
				return err
			}
			result, err := srv.Retrieval().IngestFile(cmd.Context(), path, filepath.Base(path), format)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.IngestResponse{
				DocID:         result.Filename,
				SegmentsCount: result.Segments,
			})
		},
	}
}

func (c *cli) queryCommand() *cobra.Command {
	var (
		domain string
		topK   int
	)
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Process a claim query",
		Long:  "Run the full pipeline on a claim query against the active document and print the stored result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := c.open()
			if err != nil {
				return err
			}
			result, err := srv.Pipeline().Process(cmd.Context(), pipeline.Query{
				Text:   strings.Join(args, " "),
				Domain: domain,
				TopK:   topK,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&domain, "domain", pipeline.DefaultDomain, "claim domain passed to the reasoner")
	cmd.Flags().IntVarP(&topK, "top-k", "k", c.cfg.TopK, "number of clauses to retrieve")
	return cmd
}

func (c *cli) showCommand() *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "show [query-id]",
		Short: "Show a stored result",
		Long:  "Print one view of a stored result: full, summaries, cot or rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := c.open()
			if err != nil {
				return err
			}
			payload, err := lookupView(cmd.Context(), srv.Pipeline(), args[0], view)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), payload)
		},
	}
	cmd.Flags().StringVar(&view, "view", "full", "result view: full, summaries, cot or rules")
	return cmd
}

func (c *cli) listCommand() *cobra.Command {
	var (
		offset, limit int
		decision      string
		overridden    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored results",
		Long:  "List stored results newest first, optionally filtered by final decision and override",
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict, flag, err := pipeline.ParseListFilters(decision, overridden)
			if err != nil {
				return err
			}
			srv, err := c.open()
			if err != nil {
				return err
			}
			items, total, err := srv.Pipeline().List(cmd.Context(), pipeline.ListOptions{
				Offset:        offset,
				Limit:         limit,
				FinalDecision: verdict,
				Overridden:    flag,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.QueryListResponse{
				Items:  items,
				Total:  total,
				Offset: offset,
				Limit:  limit,
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "number of results to skip")
	cmd.Flags().IntVar(&limit, "limit", 25, "maximum number of results")
	cmd.Flags().StringVar(&decision, "decision", "", "only results with this final decision")
	cmd.Flags().StringVar(&overridden, "overridden", "", "only results whose decision was (true) or was not (false) overridden")
	return cmd
}

func (c *cli) rulesCommand() *cobra.Command {
	var (
		input    string
		slotJSON string
		verdict  string
		amount   float64
	)
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Evaluate the rules engine",
		Long:  "Apply the rule battery to slots and a preliminary decision, read from --input (or - for stdin) or from flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rules.LoadConfig(c.cfg.RulesPath)
			if err != nil {
				return err
			}

			var req api.EvaluateRulesRequest
			if input != "" {
				if err := readRequest(cmd.InOrStdin(), input, &req); err != nil {
					return err
				}
			} else {
				if slotJSON != "" {
					if err := json.Unmarshal([]byte(slotJSON), &req.Slots); err != nil {
						return fmt.Errorf("parse slots: %w", err)
					}
				}
				req.Decision.Decision = rules.Verdict(verdict)
				if cmd.Flags().Changed("amount") {
					req.Decision.Amount = &amount
				}
			}

			req.Decision.Decision = rules.ParseVerdict(string(req.Decision.Decision))
			if req.Decision.Amount != nil && *req.Decision.Amount < 0 {
				req.Decision.Amount = nil
			}
			if req.Slots == nil {
				req.Slots = slots.Set{}
			}
			return writeJSON(cmd.OutOrStdout(), rules.New(cfg).Evaluate(req.Slots, req.Decision))
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON file with {slots, decision}")
	cmd.Flags().StringVar(&slotJSON, "slots", "", "slots as a JSON object")
	cmd.Flags().StringVar(&verdict, "decision", string(rules.Unknown), "preliminary decision")
	cmd.Flags().Float64Var(&amount, "amount", 0, "preliminary amount")
	return cmd
}

func (c *cli) open() (*api.Server, error) {
	if c.server != nil {
		return c.server, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	srv, err := api.NewServer(api.Config{
		DBPath:    c.cfg.DBPath,
		UploadDir: filepath.Join(filepath.Dir(c.cfg.DBPath), "uploads"),
		RulesPath: c.cfg.RulesPath,
		SilentDB:  true,
		AIConfig:  c.cfg.AI,
		DisableAI: c.cfg.DisableAI,
		Embedding: c.cfg.Embedding,
		TopK:      c.cfg.TopK,
	})
	if err != nil {
		return nil, err
	}
	c.server = srv
	return srv, nil
}

func (c *cli) close() {
	if c.server == nil {
		return
	}
	if err := c.server.Close(); err != nil {
		logrus.WithError(err).Warn("close database")
	}
	c.server = nil
}

func lookupView(ctx context.Context, p *pipeline.Pipeline, id, view string) (any, error) {
	switch strings.ToLower(view) {
	case "", "full":
		return p.Full(ctx, id)
	case "summaries":
		summaries, err := p.Summaries(ctx, id)
		return api.SummariesResponse{Summaries: summaries}, err
	case "cot", "chain_of_thought":
		return p.ChainOfThought(ctx, id)
	case "rules":
		outcome, err := p.Rules(ctx, id)
		return api.RulesResponse{Rules: outcome}, err
	}
	return nil, fmt.Errorf("unknown view %q", view)
}

func readRequest(stdin io.Reader, path string, req *api.EvaluateRulesRequest) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(filepath.Clean(path))
	}
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return errors.New("empty rules input")
	}
	if err := json.Unmarshal(data, req); err != nil {
		return fmt.Errorf("parse rules input: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
