package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chatloop/chatloop/chain"
	"github.com/chatloop/chatloop/channels"
	"github.com/chatloop/chatloop/config"
	"github.com/chatloop/chatloop/errors"
	"github.com/chatloop/chatloop/llm"
	"github.com/chatloop/chatloop/stream"
	"github.com/chatloop/chatloop/transcript"
	"github.com/chatloop/chatloop/usage"
)

func main() {
	resumeFlag := flag.String("r", "", "Resume a saved session by ID or transcript path")
	llmFlag := flag.String("llm", "", "LLM client: 'anthropic', 'openai', 'gemini' or 'bedrock'")
	modelFlag := flag.String("model", "", "Model name to use")
	saveDirFlag := flag.String("save-dir", "", "Directory for saved session transcripts")
	detailedFlag := flag.Bool("detailed", false, "Show reasoning and commentary channels")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *llmFlag != "" {
		cfg.LLMClient = *llmFlag
	}
	if *modelFlag != "" {
		cfg.Model = *modelFlag
	}
	if *saveDirFlag != "" {
		cfg.Paths.SaveLocation = *saveDirFlag
	}
	if *detailedFlag {
		cfg.Features.ShowDetailedThinking = true
	}

	ctx := context.Background()

	agent, err := llm.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing LLM client: %+v\n", err)
		os.Exit(1)
	}

	rates := usage.RateTable{}
	for model, rate := range cfg.Pricing {
		rates[model] = usage.Rate{InputPerMTok: rate.InputPerMTok, OutputPerMTok: rate.OutputPerMTok}
	}

	rec := transcript.NewRecorder(agent.Name(), "", agent.Model(), rates)
	orch := &stream.Orchestrator{
		Agent:     agent,
		Recorder:  rec,
		Processor: &channels.Processor{ShowDetailedThinking: cfg.Features.ShowDetailedThinking},
		Renderer:  &terminalRenderer{},
	}

	saveDir := cfg.Paths.SaveLocation

	if *resumeFlag != "" {
		rec = resumeSession(ctx, orch, rec, *resumeFlag, saveDir)
		orch.Recorder = rec
	} else {
		fmt.Printf("Starting new session: %s\n", rec.Session().SessionID)
	}

	loop := &chatLoop{
		cfg:     cfg,
		orch:    orch,
		saveDir: saveDir,
	}

	if initial := strings.Join(flag.Args(), " "); initial != "" {
		loop.runQuery(ctx, initial)
	}
	loop.run(ctx)
}

// resumeSession restores a prior session, asking for confirmation when the
// saved transcript was recorded with a different agent.
func resumeSession(ctx context.Context, orch *stream.Orchestrator, rec *transcript.Recorder, locator, saveDir string) *transcript.Recorder {
	resumed, err := chain.Resume(ctx, orch, rec, locator, saveDir, false)
	var mismatch *chain.AgentMismatchError
	if stderrors.As(err, &mismatch) {
		fmt.Printf("%v\n", mismatch)
		if !confirm("Resume anyway?") {
			fmt.Println("Starting a fresh session instead.")
			return rec
		}
		resumed, err = chain.Resume(ctx, orch, rec, locator, saveDir, true)
	}
	if err != nil {
		if errors.IsWarning(err) {
			fmt.Printf("Warning: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error resuming session: %+v\n", err)
		}
	}
	if resumed.Session().ParentSessionID != "" {
		fmt.Printf("Resumed from session: %s\n", resumed.Session().ParentSessionID)
	}
	return resumed
}

type chatLoop struct {
	cfg     *config.Config
	orch    *stream.Orchestrator
	saveDir string
}

func (l *chatLoop) run(ctx context.Context) {
	in := bufio.NewScanner(os.Stdin)
	fmt.Printf("Chatting with %s (%s). Type 'help' for commands.\n", l.orch.Agent.Name(), l.orch.Agent.Model())
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if l.runCommand(ctx, line) {
			return
		}
	}
	l.finish()
}

// runCommand handles in-loop commands. It returns true when the loop should
// exit.
func (l *chatLoop) runCommand(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "exit", "quit":
		l.finish()
		return true
	case "help":
		l.printHelp()
	case "save":
		l.save()
	case "compact":
		l.compact(ctx)
	case "stats":
		l.printStats()
	case "sessions":
		l.listSessions(arg)
	case "search":
		l.searchSessions(arg)
	case "delete":
		l.deleteSession(arg)
	case "cleanup":
		l.cleanupSessions(arg)
	default:
		l.runQuery(ctx, line)
	}
	return false
}

func (l *chatLoop) runQuery(ctx context.Context, query string) {
	result, err := l.orch.Run(ctx, query)
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		if result == nil {
			return
		}
	}

	var parts []string
	if l.cfg.Features.ShowDuration {
		parts = append(parts, fmt.Sprintf("%.1fs", result.Exchange.Elapsed))
	}
	if l.cfg.Features.ShowTokens && result.DisplayUsage != nil {
		parts = append(parts, fmt.Sprintf("%s tokens (in: %s, out: %s)",
			usage.FormatTokens(result.DisplayUsage.Total()),
			usage.FormatTokens(result.DisplayUsage.InputTokens),
			usage.FormatTokens(result.DisplayUsage.OutputTokens)))
	}
	if result.HasCycles {
		parts = append(parts, fmt.Sprintf("%d cycles", result.Cycles))
	}
	if result.HasTools {
		parts = append(parts, fmt.Sprintf("%d tool calls", result.Tools))
	}
	if len(parts) > 0 {
		fmt.Printf("[%s]\n", strings.Join(parts, " | "))
	}
}

func (l *chatLoop) save() {
	id, err := l.orch.Recorder.Persist(l.saveDir)
	if err != nil {
		if errors.IsWarning(err) {
			fmt.Printf("Warning: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error saving session: %+v\n", err)
			return
		}
	}
	fmt.Printf("Saved session: %s\n", id)
}

func (l *chatLoop) compact(ctx context.Context) {
	rec, err := chain.Compact(ctx, l.orch, l.orch.Recorder, l.saveDir)
	if err != nil {
		if errors.IsWarning(err) {
			fmt.Printf("Warning: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error compacting session: %+v\n", err)
		}
	}
	l.orch.Recorder = rec
	if rec.Session().ParentSessionID != "" {
		fmt.Printf("Compacted. Continuing in session %s (previous: %s)\n",
			rec.Session().SessionID, rec.Session().ParentSessionID)
	}
}

func (l *chatLoop) printStats() {
	t := l.orch.Recorder.Totals()
	fmt.Printf("Queries: %d\n", t.QueryCount)
	fmt.Printf("Tokens: %s (in: %s, out: %s)\n",
		usage.FormatTokens(t.InputTokens+t.OutputTokens),
		usage.FormatTokens(t.InputTokens),
		usage.FormatTokens(t.OutputTokens))
	if t.CostKnown {
		fmt.Printf("Estimated cost: $%.4f\n", t.Cost)
	}
	fmt.Printf("Time: %.1fs\n", t.Elapsed)
}

func (l *chatLoop) listSessions(arg string) {
	limit := 10
	if arg != "" {
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			limit = n
		}
	}
	infos, err := transcript.List(l.saveDir, "", limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing sessions: %+v\n", err)
		return
	}
	if len(infos) == 0 {
		fmt.Println("No saved sessions.")
		return
	}
	for _, info := range infos {
		fmt.Printf("%s  %s  %d queries  %s\n", info.SessionID, info.AgentName, info.QueryCount, info.Preview)
	}
}

func (l *chatLoop) searchSessions(term string) {
	if term == "" {
		fmt.Println("Usage: search <term>")
		return
	}
	infos, err := transcript.Search(l.saveDir, term)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error searching sessions: %+v\n", err)
		return
	}
	if len(infos) == 0 {
		fmt.Println("No matching sessions.")
		return
	}
	for _, info := range infos {
		fmt.Printf("%s  %s  %s\n", info.SessionID, info.AgentName, info.Preview)
	}
}

func (l *chatLoop) deleteSession(id string) {
	if id == "" {
		fmt.Println("Usage: delete <session-id>")
		return
	}
	if !confirm(fmt.Sprintf("Delete session %s?", id)) {
		return
	}
	if err := transcript.Delete(l.saveDir, id); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting session: %+v\n", err)
		return
	}
	fmt.Printf("Deleted session: %s\n", id)
}

func (l *chatLoop) cleanupSessions(arg string) {
	days := 30
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			fmt.Println("Usage: cleanup [days]")
			return
		}
		days = n
	}
	if !confirm(fmt.Sprintf("Delete sessions older than %d days?", days)) {
		return
	}
	deleted, err := transcript.CleanupOlderThan(l.saveDir, time.Duration(days)*24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error cleaning up sessions: %+v\n", err)
		return
	}
	fmt.Printf("Deleted %d sessions.\n", deleted)
}

func (l *chatLoop) printHelp() {
	fmt.Println(`Commands:
  save           Save the session transcript now
  compact        Summarize and continue in a fresh chained session
  stats          Show token, cost and timing totals
  sessions [n]   List recent saved sessions
  search <term>  Search saved sessions
  delete <id>    Delete a saved session
  cleanup [days] Delete sessions older than the given age (default 30 days)
  exit | quit    Save (if auto-save is on) and leave
Anything else is sent to the agent.`)
}

func (l *chatLoop) finish() {
	if !l.cfg.Features.AutoSave {
		return
	}
	if l.orch.Recorder.Session().QueryCount() == 0 {
		return
	}
	l.save()
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	in := bufio.NewScanner(os.Stdin)
	if !in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(in.Text()))
	return answer == "y" || answer == "yes"
}
