package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/app"
	"github.com/daverage/mnemo/internal/doctor"
	"github.com/daverage/mnemo/internal/memory"
	"github.com/daverage/mnemo/internal/store"
	"github.com/daverage/mnemo/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "mnemo - adaptive memory retrieval for LLMs",
	Long: `mnemo stores question/answer memories, routes each query to a memory
effort level, plans retrieval against store size and query complexity, and
compresses the results into a bounded context block.

Configuration is read from the file named by MNEMO_CONFIG, overridable
through MNEMO_* environment variables.`,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(interactionCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(completionCmd)

	saveCmd.Flags().StringVarP(&saveQuestion, "question", "q", "", "question or statement being remembered")
	saveCmd.Flags().StringVarP(&saveAnswer, "answer", "a", "", "answer or fact to remember")
	saveCmd.Flags().StringVar(&saveAgent, "agent", "", "owning agent")
	saveCmd.Flags().StringVar(&saveImportance, "importance", "", "low, medium or high (inferred when empty)")
	saveCmd.Flags().StringVar(&saveTags, "tags", "", "comma-separated tags (extracted when empty)")
	_ = saveCmd.MarkFlagRequired("question")
	_ = saveCmd.MarkFlagRequired("answer")

	queryCmd.Flags().IntVar(&queryLimit, "limit", 10, "maximum results")
	queryCmd.Flags().StringVar(&queryAgent, "agent", "", "filter by agent")
	queryCmd.Flags().StringVar(&queryImportance, "importance", "", "filter by importance")
	queryCmd.Flags().StringVar(&queryTags, "tags", "", "filter by comma-separated tags")

	recentCmd.Flags().IntVar(&recentLimit, "limit", 10, "maximum results")
	recentCmd.Flags().StringVar(&recentAgent, "agent", "", "filter by agent")

	contextCmd.Flags().StringVar(&contextAgent, "agent", "", "scope retrieval to one agent")

	interactionCmd.Flags().StringVarP(&interactionQuery, "query", "q", "", "the user query")
	interactionCmd.Flags().StringVarP(&interactionResponse, "response", "r", "", "the assistant response")
	interactionCmd.Flags().StringVar(&interactionAgent, "agent", "", "owning agent")
	_ = interactionCmd.MarkFlagRequired("query")
	_ = interactionCmd.MarkFlagRequired("response")

	cleanupCmd.Flags().DurationVar(&cleanupLow, "low", 0, "max age for low-importance records (0 keeps forever)")
	cleanupCmd.Flags().DurationVar(&cleanupMedium, "medium", 0, "max age for medium-importance records (0 keeps forever)")
	cleanupCmd.Flags().DurationVar(&cleanupHigh, "high", 0, "max age for high-importance records (0 keeps forever)")
}

var completionCmd = &cobra.Command{
	Use:                   "completion [bash|zsh|fish|powershell]",
	Short:                 "Generate the autocompletion script for the specified shell",
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		switch args[0] {
		case "bash":
			err = cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			err = cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			err = cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			err = cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating completion script: %v\n", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
}

func runVersionCmd(a *app.App, cmd *cobra.Command, args []string) {
	fmt.Printf("mnemo v%s\n", version.Version)
	if latest, err := version.CheckForUpdates(); err == nil && latest != "" {
		fmt.Printf("A newer version is available: v%s\n", latest)
	}
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run environment diagnostics",
}

func runDoctorCmd(a *app.App, cmd *cobra.Command, args []string) {
	runner := doctor.NewRunner(a.Core.Config, a.Core.Store, a.Embedder)
	diag := runner.RunAll(a.Ctx)

	for _, check := range diag.Checks {
		marker := "✅"
		if check.Status == "fail" {
			marker = "❌"
		} else if check.Status == "warn" {
			marker = "!"
		}
		fmt.Printf("%s %s: %s\n", marker, check.Name, check.Message)
	}
	fmt.Printf("\nStatus: %s\n", diag.Status)
	if diag.Status != "healthy" {
		os.Exit(1)
	}
}

var (
	saveQuestion   string
	saveAnswer     string
	saveAgent      string
	saveImportance string
	saveTags       string
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a memory record",
}

func runSaveCmd(a *app.App, cmd *cobra.Command, args []string) {
	req := store.SaveRequest{
		Question: saveQuestion,
		Answer:   saveAnswer,
		Agent:    saveAgent,
		Tags:     splitTags(saveTags),
	}
	if saveImportance != "" {
		imp, err := memory.ParseImportance(saveImportance)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		req.Importance = imp
	}

	id, err := a.Engine.SaveMemory(a.Ctx, req)
	if err != nil {
		a.Core.Logger.Error("save failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if id == "" {
		fmt.Println("Skipped: near-duplicate of an existing memory.")
		return
	}
	fmt.Printf("Saved %s\n", id)
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one memory record",
	Args:  cobra.ExactArgs(1),
}

func runGetCmd(a *app.App, cmd *cobra.Command, args []string) {
	rec, err := a.Core.Store.Get(a.Ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if rec == nil {
		fmt.Println("Not found.")
		return
	}
	printRecord(rec)
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a memory record",
	Args:  cobra.ExactArgs(1),
}

func runDeleteCmd(a *app.App, cmd *cobra.Command, args []string) {
	ok, err := a.Core.Store.Delete(a.Ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Println("Not found.")
		return
	}
	fmt.Println("Deleted.")
}

var (
	queryLimit      int
	queryAgent      string
	queryImportance string
	queryTags       string
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search memories by relevance",
	Args:  cobra.MinimumNArgs(1),
}

func runQueryCmd(a *app.App, cmd *cobra.Command, args []string) {
	f := store.Filters{
		Agent: queryAgent,
		Tags:  splitTags(queryTags),
	}
	if queryImportance != "" {
		imp, err := memory.ParseImportance(queryImportance)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		f.Importance = imp
	}

	results, err := a.Engine.QueryMemories(a.Ctx, strings.Join(args, " "), queryLimit, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No matching memories.")
		return
	}
	for _, sr := range results {
		fmt.Printf("[%.3f] %s\n", sr.Scores.Total, sr.Record.ID)
		printRecord(sr.Record)
		fmt.Println()
	}
}

var (
	recentLimit int
	recentAgent string
)

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the newest memories",
}

func runRecentCmd(a *app.App, cmd *cobra.Command, args []string) {
	records, err := a.Core.Store.Recent(a.Ctx, recentLimit, recentAgent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No memories yet.")
		return
	}
	for _, rec := range records {
		printRecord(rec)
		fmt.Println()
	}
}

var routeCmd = &cobra.Command{
	Use:   "route [query]",
	Short: "Show the routing decision for a query",
	Args:  cobra.MinimumNArgs(1),
}

func runRouteCmd(a *app.App, cmd *cobra.Command, args []string) {
	decision := a.Engine.Route(a.Ctx, strings.Join(args, " "), nil)
	printDecision(&decision)
}

var planCmd = &cobra.Command{
	Use:   "plan [query]",
	Short: "Show the retrieval plan for a query",
	Args:  cobra.MinimumNArgs(1),
}

func runPlanCmd(a *app.App, cmd *cobra.Command, args []string) {
	decision, plan := a.Engine.Plan(a.Ctx, strings.Join(args, " "))
	printDecision(&decision)
	fmt.Println()
	printPlan(&plan)
}

var contextAgent string

var contextCmd = &cobra.Command{
	Use:   "context [query]",
	Short: "Build the compressed memory context for a query",
	Args:  cobra.MinimumNArgs(1),
}

func runContextCmd(a *app.App, cmd *cobra.Command, args []string) {
	result, err := a.Engine.BuildContext(a.Ctx, strings.Join(args, " "), nil, contextAgent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if result.Context == "" {
		fmt.Println("(empty context)")
	} else {
		fmt.Println(result.Context)
	}
	fmt.Printf("\n-- %d/%d memories, %d/%d tokens, level %s, %s\n",
		result.Stats.MemoriesIncluded, result.Stats.MemoriesTotal,
		result.Stats.TokenCount, result.Stats.TokenBudget,
		result.Decision.MemoryLevel, result.Decision.ReasoningString())
}

var (
	interactionQuery    string
	interactionResponse string
	interactionAgent    string
)

var interactionCmd = &cobra.Command{
	Use:   "interaction",
	Short: "Score a finished exchange and save it when worthwhile",
}

func runInteractionCmd(a *app.App, cmd *cobra.Command, args []string) {
	result, err := a.Engine.SaveInteraction(a.Ctx, interactionQuery, interactionResponse, interactionAgent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if result.Saved {
		fmt.Printf("Saved %s (score %d, confidence %.2f)\n", result.ID, result.Score, result.Confidence)
	} else {
		fmt.Printf("Not saved (score %d, confidence %.2f)\n", result.Score, result.Confidence)
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
}

func runStatsCmd(a *app.App, cmd *cobra.Command, args []string) {
	stats, err := a.Core.Store.Stats(a.Ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Total memories: %d\n", stats.TotalRecords)

	if len(stats.ByImportance) > 0 {
		fmt.Println("By importance:")
		for _, imp := range []memory.Importance{memory.ImportanceHigh, memory.ImportanceMedium, memory.ImportanceLow} {
			if n := stats.ByImportance[imp]; n > 0 {
				fmt.Printf("  %s: %d\n", imp, n)
			}
		}
	}
	if len(stats.ByAgent) > 0 {
		agents := make([]string, 0, len(stats.ByAgent))
		for agent := range stats.ByAgent {
			agents = append(agents, agent)
		}
		sort.Strings(agents)
		fmt.Println("By agent:")
		for _, agent := range agents {
			name := agent
			if name == "" {
				name = "(none)"
			}
			fmt.Printf("  %s: %d\n", name, stats.ByAgent[agent])
		}
	}
}

var (
	cleanupLow    time.Duration
	cleanupMedium time.Duration
	cleanupHigh   time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete records older than the retention limits",
}

func runCleanupCmd(a *app.App, cmd *cobra.Command, args []string) {
	removed, err := a.Core.Store.Cleanup(a.Ctx, store.RetentionPolicy{
		MaxAge: map[memory.Importance]time.Duration{
			memory.ImportanceLow:    cleanupLow,
			memory.ImportanceMedium: cleanupMedium,
			memory.ImportanceHigh:   cleanupHigh,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d records\n", removed)
}

func printRecord(rec *memory.Record) {
	fmt.Printf("ID:         %s\n", rec.ID)
	fmt.Printf("Question:   %s\n", rec.Question)
	fmt.Printf("Answer:     %s\n", rec.Answer)
	if rec.Agent != "" {
		fmt.Printf("Agent:      %s\n", rec.Agent)
	}
	fmt.Printf("Importance: %s\n", rec.Importance)
	if len(rec.Tags) > 0 {
		fmt.Printf("Tags:       %s\n", strings.Join(rec.Tags, ", "))
	}
	fmt.Printf("Saved:      %s\n", rec.Timestamp.Format(time.RFC3339))
}

func printDecision(d *memory.RoutingDecision) {
	fmt.Printf("Memory level:    %s\n", d.MemoryLevel)
	fmt.Printf("Save memory:     %t\n", d.SaveMemory)
	fmt.Printf("Complexity:      %s\n", d.ResponseComplexity)
	fmt.Printf("External search: %t\n", d.NeedsExternalSearch)
	fmt.Printf("Confidence:      %.2f\n", d.Confidence)
	fmt.Printf("Reasoning:       %s\n", d.ReasoningString())
}

func printPlan(p *memory.RetrievalPlan) {
	fmt.Printf("Profile:       %s", p.Profile)
	if p.FallbackUsed {
		fmt.Print(" (fallback)")
	}
	fmt.Println()
	fmt.Printf("Recent:        %d\n", p.RecentCount)
	fmt.Printf("Semantic:      %d\n", p.SemanticCount)
	fmt.Printf("Max total:     %d\n", p.MaxTotal)
	fmt.Printf("Token budget:  %d\n", p.TokenBudget)
	fmt.Printf("Strategies:    %s\n", strings.Join(p.SearchStrategies, ", "))
	fmt.Printf("Compression:   %.2f\n", p.CompressionRatio)
	fmt.Printf("Confidence:    %.2f\n", p.Confidence)
	fmt.Printf("Est. time:     %s\n", p.EstimatedTime)
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// newAppRunner adapts a handler needing the app instance to cobra's Run
// signature.
func newAppRunner(a *app.App, fn func(*app.App, *cobra.Command, []string)) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		fn(a, cmd, args)
	}
}

func main() {
	appInstance, err := app.New("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer appInstance.Close()

	versionCmd.Run = newAppRunner(appInstance, runVersionCmd)
	saveCmd.Run = newAppRunner(appInstance, runSaveCmd)
	getCmd.Run = newAppRunner(appInstance, runGetCmd)
	deleteCmd.Run = newAppRunner(appInstance, runDeleteCmd)
	queryCmd.Run = newAppRunner(appInstance, runQueryCmd)
	recentCmd.Run = newAppRunner(appInstance, runRecentCmd)
	routeCmd.Run = newAppRunner(appInstance, runRouteCmd)
	planCmd.Run = newAppRunner(appInstance, runPlanCmd)
	contextCmd.Run = newAppRunner(appInstance, runContextCmd)
	interactionCmd.Run = newAppRunner(appInstance, runInteractionCmd)
	statsCmd.Run = newAppRunner(appInstance, runStatsCmd)
	cleanupCmd.Run = newAppRunner(appInstance, runCleanupCmd)
	doctorCmd.Run = newAppRunner(appInstance, runDoctorCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
