package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/core"
	"github.com/oceanbase/colonymem/pkg/knowledge"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/metrics"
)

var (
	configFlag  string
	dbFlag      string
	metricsFlag bool
	tickFlag    int64
)

var rootCmd = &cobra.Command{
	Use:           "colonymem",
	Short:         "colonymem - tiered memory for simulated colonists",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Seed a small colony, save it and print an injection block",
	RunE:  runDemo,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <agent>",
	Short: "Print an agent's memories tier by tier",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run one maintenance tick over the saved colony and save it",
	RunE:  runMaintain,
}

var injectCmd = &cobra.Command{
	Use:   "inject <agent> <listener> <text>",
	Short: "Print the injection block of agent speaking to listener",
	Args:  cobra.ExactArgs(3),
	RunE:  runInject,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "JSON or YAML config file (default: environment)")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite snapshot database, overrides the configured store")
	rootCmd.PersistentFlags().BoolVar(&metricsFlag, "metrics", false, "Print collected metrics after the command")
	maintainCmd.Flags().Int64Var(&tickFlag, "tick", 0, "Simulation tick to run maintenance at")
	injectCmd.Flags().Int64Var(&tickFlag, "tick", 0, "Simulation tick of the conversation (default: saved tick)")
	rootCmd.AddCommand(demoCmd, inspectCmd, maintainCmd, injectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles a client with the metrics registry it reports to.
type app struct {
	client   *core.Client
	registry *prometheus.Registry
	logger   *zap.Logger
	out      io.Writer
}

func loadConfig() (*core.Config, error) {
	var (
		cfg *core.Config
		err error
	)
	if configFlag != "" {
		cfg, err = core.LoadConfigFile(configFlag)
	} else {
		cfg, err = core.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbFlag != "" {
		cfg.Store.Provider = core.StoreSQLite
		cfg.Store.SQLite.DBPath = dbFlag
	}
	return cfg, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := core.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	client, err := core.NewClient(cfg,
		core.WithLogger(logger),
		core.WithMetrics(metrics.NewCollector("colonymem", reg, logger)))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return &app{client: client, registry: reg, logger: logger, out: cmd.OutOrStdout()}, nil
}

// load opens the app and restores the saved colony.
func load(cmd *cobra.Command) (*app, error) {
	a, err := newApp(cmd)
	if err != nil {
		return nil, err
	}
	rep, err := a.client.Load(cmd.Context())
	if err != nil {
		a.close()
		return nil, err
	}
	if len(rep.Skipped) > 0 {
		fmt.Fprintf(a.out, "skipped unreadable agents: %s\n", strings.Join(rep.Skipped, ", "))
	}
	return a, nil
}

func (a *app) close() {
	if metricsFlag {
		a.printMetrics()
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) printMetrics() {
	families, err := a.registry.Gather()
	if err != nil {
		fmt.Fprintf(a.out, "metrics: %v\n", err)
		return
	}
	fmt.Fprintln(a.out, "\n# metrics")
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		fmt.Fprintf(a.out, "%s %g\n", mf.GetName(), total)
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()
	if err := seedColony(ctx, a.client); err != nil {
		return err
	}
	n, err := a.client.SaveAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "saved %d agents\n\n", n)
	fmt.Fprintln(a.out, a.client.BuildInjectionContext(ctx, "alice", "bob", "Is the village safe from fire?"))
	return nil
}

// seedColony adds the demo colonists, their memories and the shared
// knowledge library.
func seedColony(ctx context.Context, c *core.Client) error {
	facts := []*knowledge.Entry{
		knowledge.NewEntry("fire", "fire", "The village burned down two winters ago", 0.6),
		knowledge.NewEntry("village", "village", "The village stands at the river ford", 0.4),
	}
	for _, f := range facts {
		if _, err := c.AddKnowledge(ctx, f); err != nil {
			return err
		}
	}
	if err := c.SetKnowledgeFlags("fire", knowledge.Flags{CanBeExtracted: true}); err != nil {
		return err
	}
	if err := c.SetKnowledgeFlags("village", knowledge.Flags{CanBeMatched: true}); err != nil {
		return err
	}

	seeds := []struct {
		agent, text string
		tick        int64
		opts        []core.AddOption
	}{
		{"alice", "Put out a small fire in the kitchen", 2500, []core.AddOption{core.WithType(memory.TypeEvent)}},
		{"alice", "Bob built a stone firebreak", 5000, []core.AddOption{core.WithRelatedEntity("bob", "Bob")}},
		{"alice", "Promised to keep the well clean", 7500, []core.AddOption{core.WithPinned()}},
		{"bob", "Hauled stone for the firebreak", 5000, nil},
	}
	for _, s := range seeds {
		if _, err := c.AddMemory(ctx, s.agent, s.text, s.tick, s.opts...); err != nil {
			return err
		}
	}
	_, err := c.RecordConversation(ctx, memory.ConversationRound{
		Participants: []string{"alice", "bob"},
		Lines:        []string{"Alice: the firebreak looks solid", "Bob: it should stop any blaze"},
		Tick:         10000,
	})
	return err
}

func runInspect(cmd *cobra.Command, args []string) error {
	a, err := load(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	agent := args[0]
	st := a.client.Stats(agent)
	if st.Total == 0 {
		return fmt.Errorf("agent %q has no memories", agent)
	}
	fmt.Fprintf(a.out, "%s: %d memories, %d pinned, %d applicable facts\n", agent, st.Total, st.Pinned, st.Knowledge)
	for _, tier := range memory.AllTiers {
		entries := a.client.Memories(agent, tier)
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(a.out, "\n[%s] %d\n", tier, len(entries))
		for _, e := range entries {
			flags := ""
			if e.IsPinned {
				flags += " pinned"
			}
			if e.IsUserEdited {
				flags += " edited"
			}
			fmt.Fprintf(a.out, "  %s t=%d imp=%.2f act=%.2f %s%s\n",
				e.ID, e.Timestamp, e.Importance, e.Activity, e.Content, flags)
		}
	}
	return nil
}

func runMaintain(cmd *cobra.Command, args []string) error {
	a, err := load(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	tick := tickFlag
	if tick == 0 {
		tick = a.client.Now()
	}
	rep := a.client.Tick(ctx, tick)
	fmt.Fprintf(a.out, "tick %d: agents=%d decayed=%d pruned=%d evicted=%d summaries=%d archived=%d queued=%d\n",
		tick, len(rep.Agents), rep.Decayed, rep.Pruned, rep.Evicted, rep.Summaries, rep.Archived, rep.Queued)
	cats := make([]string, 0, len(rep.Recalibrated))
	for cat := range rep.Recalibrated {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		fmt.Fprintf(a.out, "threshold %s=%.3f\n", cat, rep.Recalibrated[cat])
	}
	if a.client.QueueLen() > 0 {
		ran, err := a.client.DrainQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "summary queue: drained=%t pending=%d\n", ran, a.client.QueueLen())
	}
	_, err = a.client.Save(ctx)
	return err
}

func runInject(cmd *cobra.Command, args []string) error {
	a, err := load(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	a.client.SetNow(tickFlag)
	text := a.client.BuildInjectionContext(cmd.Context(), args[0], args[1], args[2])
	if text == "" {
		fmt.Fprintln(a.out, "(nothing to inject)")
		return nil
	}
	fmt.Fprintln(a.out, text)
	return nil
}
