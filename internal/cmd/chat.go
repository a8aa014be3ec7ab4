package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/catchat-dev/catchat/internal/channel"
	"github.com/catchat-dev/catchat/internal/chatapi"
	"github.com/catchat-dev/catchat/internal/config"
	"github.com/catchat-dev/catchat/internal/conversation"
	"github.com/catchat-dev/catchat/internal/identity"
	"github.com/catchat-dev/catchat/internal/kv"
	"github.com/catchat-dev/catchat/internal/logging"
	"github.com/catchat-dev/catchat/internal/store"
	"github.com/catchat-dev/catchat/internal/videoapi"
)

// chatCmd represents the interactive chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session with the video generation service.

The chat keeps a persistent channel to the server; generation progress
streams into the conversation as it happens. Without a connection the
chat still works against the completion API, and /video jobs can be
followed with /poll.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// chatSession holds the interactive session's moving parts. The service is
// rebuilt on /reconnect so configuration changes picked up by the watcher
// take effect without restarting.
type chatSession struct {
	mu      sync.Mutex
	svc     *conversation.Service
	cfg     *config.Config
	st      *store.Store
	backend kv.Store
	printed int
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w (run 'catchat config create' to write a settings file)", err)
	}

	backend, err := openState()
	if err != nil {
		return fmt.Errorf("failed to open state storage: %w", err)
	}
	defer backend.Close()

	st := store.New(backend)
	if err := st.Load(); err != nil {
		return err
	}

	cs := &chatSession{cfg: cfg, st: st, backend: backend}
	cs.svc = buildService(st, backend, cfg)
	cs.svc.SetOnUpdate(cs.render)
	defer func() { cs.svc.Disconnect() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Printf("📁 Session: %s\n", st.CurrentID())
	cs.render()

	if err := cs.svc.Connect(ctx); err != nil {
		// The channel schedules its own retries; the chat stays usable.
		fmt.Printf("⚠️  %v\n", err)
	}

	if watcher, werr := config.NewWatcher(cfgPath, logging.ConfigLog()); werr == nil {
		watcher.Subscribe(cs)
		defer watcher.Close()
	} else {
		logging.ConfigLog().Warn("config watcher disabled", "error", werr)
	}

	return cs.interactiveLoop(ctx)
}

// buildService assembles the conversation service from a configuration.
func buildService(st *store.Store, backend kv.Store, c *config.Config) *conversation.Service {
	video := videoapi.New(c.API.BaseURL,
		videoapi.WithRateLimit(c.API.RequestsPerSecond, c.API.Burst))
	chat := chatapi.New(c.Chat.Endpoint, c.Chat.APIKey,
		chatapi.WithModel(c.Chat.Model),
		chatapi.WithSampling(c.Chat.Temperature, c.Chat.MaxTokens))
	return conversation.New(st, identity.NewProvider(backend), channel.Config{
		Endpoint:             c.Channel.Endpoint,
		KeepaliveInterval:    c.Channel.KeepaliveInterval,
		ReconnectBase:        c.Channel.ReconnectBase,
		ReconnectMultiplier:  c.Channel.ReconnectMultiplier,
		MaxReconnectAttempts: c.Channel.MaxReconnectAttempts,
	}, video, chat)
}

// OnConfigChanged implements config.Subscriber. The new configuration is
// kept; connection settings apply on the next /reconnect.
func (cs *chatSession) OnConfigChanged(c *config.Config) {
	cs.mu.Lock()
	cs.cfg = c
	cs.mu.Unlock()
	fmt.Println("\n🔄 Configuration reloaded. Use /reconnect to apply connection settings.")
}

// render prints conversation entries that have not been shown yet. When the
// message count is unchanged a progress merge updated an existing entry, so
// the latest video state is reprinted instead.
func (cs *chatSession) render() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	msgs := cs.svc.Store().ActiveMessages()
	if len(msgs) == cs.printed {
		if last := latestVideo(msgs); last != nil {
			printProgress(last)
		}
		return
	}
	for _, m := range msgs[cs.printed:] {
		printMessage(m)
	}
	cs.printed = len(msgs)
}

func (cs *chatSession) resetView() {
	cs.mu.Lock()
	cs.printed = 0
	cs.mu.Unlock()
	cs.render()
}

func latestVideo(msgs []store.Message) *store.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == store.KindVideo && msgs[i].Video != nil {
			return &msgs[i]
		}
	}
	return nil
}

func printMessage(m store.Message) {
	switch {
	case m.Kind == store.KindVideo:
		fmt.Printf("🎬 %s\n", m.Content)
		if m.Video != nil && (m.Video.Progress > 0 || m.Video.VideoURL != "") {
			printProgress(&m)
		}
	case m.Role == store.RoleUser:
		fmt.Printf("🧑 %s\n", m.Content)
	default:
		fmt.Printf("🤖 %s\n", m.Content)
	}
}

func printProgress(m *store.Message) {
	v := m.Video
	if v.VideoURL != "" {
		fmt.Printf("✅ task %d finished: %s\n", m.TaskID, v.VideoURL)
		return
	}
	stage := ""
	if n := len(v.StageHistory); n > 0 {
		stage = " " + v.StageHistory[n-1]
	}
	remaining := ""
	if v.EstimatedRemaining > 0 {
		remaining = fmt.Sprintf(" (~%.0fs left)", v.EstimatedRemaining)
	}
	fmt.Printf("⏳ task %d: %d%%%s%s\n", m.TaskID, v.Progress, stage, remaining)
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/help", "Show available commands"},
	{"/video", "Generate a video: /video <prompt>"},
	{"/cancel", "Cancel a generation task: /cancel <task-id>"},
	{"/poll", "Poll a task's progress over REST: /poll <task-id>"},
	{"/testvideo", "Print a sample video URL for playback testing"},
	{"/new", "Start a new session"},
	{"/sessions", "List sessions"},
	{"/switch", "Switch to a session: /switch <session-id>"},
	{"/delete", "Delete a session: /delete <session-id>"},
	{"/connect", "Open the progress channel"},
	{"/disconnect", "Close the progress channel"},
	{"/reconnect", "Rebuild the connection with the current configuration"},
	{"/status", "Show channel state and active session"},
	{"/quit", "Exit the chat"},
	{"/exit", "Exit the chat (alias)"},
	{"/q", "Exit the chat (alias)"},
}

func (cs *chatSession) interactiveLoop(ctx context.Context) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "catchat> " })

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Println("\n📝 Type a message and press Enter. Use /help for commands. Tab completes commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\n👋 Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if exit := cs.handleCommand(ctx, line); exit {
				fmt.Println("👋 Goodbye!")
				return nil
			}
			continue
		}

		cs.sendOrAsk(ctx, line)
	}
}

// sendOrAsk routes plain input: over the channel while it is open, otherwise
// through the completion API.
func (cs *chatSession) sendOrAsk(ctx context.Context, line string) {
	if cs.svc.ChannelState() == channel.StateOpen {
		if err := cs.svc.Send(line); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		return
	}
	if _, err := cs.svc.Ask(ctx, line); err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	cs.render()
}

// handleCommand executes a slash command. Returns true to exit the loop.
func (cs *chatSession) handleCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	name := strings.ToLower(parts[0])
	args := parts[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return true

	case "/help", "/h", "/?":
		fmt.Println("Available commands:")
		for _, c := range slashCommands {
			fmt.Printf("  %-12s %s\n", c.name, c.description)
		}

	case "/video":
		if len(args) == 0 {
			fmt.Println("Usage: /video <prompt>")
			break
		}
		prompt := strings.Join(args, " ")
		taskID, err := cs.svc.GenerateVideo(ctx, prompt)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			break
		}
		fmt.Printf("🎬 Task %d submitted.\n", taskID)
		cs.render()

	case "/cancel":
		taskID, ok := parseTaskID(args)
		if !ok {
			fmt.Println("Usage: /cancel <task-id>")
			break
		}
		if err := cs.svc.CancelVideo(ctx, taskID); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		cs.render()

	case "/poll":
		taskID, ok := parseTaskID(args)
		if !ok {
			fmt.Println("Usage: /poll <task-id>")
			break
		}
		if err := cs.svc.PollProgress(ctx, taskID); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		cs.render()

	case "/testvideo":
		// Exercises playback without spending a generation.
		url, err := videoapi.New(cs.currentConfig().API.BaseURL).TestFileURL(ctx)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			break
		}
		fmt.Printf("🎞  %s\n", url)

	case "/new":
		id := cs.svc.Store().CreateSession()
		fmt.Printf("📁 Session: %s\n", id)
		cs.resetView()

	case "/sessions":
		for _, s := range cs.svc.Store().Sessions() {
			marker := " "
			if s.ID == cs.svc.Store().CurrentID() {
				marker = "*"
			}
			fmt.Printf("%s %s  %s (%d messages)\n", marker, s.ID, s.Title, len(s.Messages))
		}

	case "/switch":
		if len(args) != 1 {
			fmt.Println("Usage: /switch <session-id>")
			break
		}
		if err := cs.svc.Store().SwitchSession(args[0]); err != nil {
			fmt.Printf("❌ %v\n", err)
			break
		}
		fmt.Printf("📁 Session: %s\n", args[0])
		cs.resetView()

	case "/delete":
		if len(args) != 1 {
			fmt.Println("Usage: /delete <session-id>")
			break
		}
		if err := cs.svc.Store().DeleteSession(args[0]); err != nil {
			fmt.Printf("❌ %v\n", err)
			break
		}
		fmt.Printf("📁 Session: %s\n", cs.svc.Store().CurrentID())
		cs.resetView()

	case "/connect":
		if err := cs.svc.Connect(ctx); err != nil {
			fmt.Printf("❌ %v\n", err)
		}

	case "/disconnect":
		cs.svc.Disconnect()
		fmt.Println("🔌 Channel closed.")

	case "/reconnect":
		cs.reconnect(ctx)

	case "/status":
		fmt.Printf("Channel:  %s\n", cs.svc.ChannelState())
		fmt.Printf("Session:  %s\n", cs.svc.Store().CurrentID())
		fmt.Printf("Endpoint: %s\n", cs.currentConfig().Channel.Endpoint)

	default:
		fmt.Printf("Unknown command %s. Use /help.\n", name)
	}
	return false
}

// reconnect tears the service down and rebuilds it from the latest
// configuration, so watcher-delivered changes take effect.
func (cs *chatSession) reconnect(ctx context.Context) {
	cs.svc.Disconnect()

	cs.mu.Lock()
	c := cs.cfg
	next := buildService(cs.st, cs.backend, c)
	cs.svc = next
	cs.mu.Unlock()
	next.SetOnUpdate(cs.render)

	if err := next.Connect(ctx); err != nil {
		fmt.Printf("⚠️  %v\n", err)
	}
}

func (cs *chatSession) currentConfig() *config.Config {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.cfg
}

func parseTaskID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// completeInput provides tab completion for the chat input.
// It completes slash commands when the input starts with "/".
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	var pairs []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, text) {
			pairs = append(pairs, cmd.name, cmd.description)
		}
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
