package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chatcore/internal/adapter/llm"
	"chatcore/internal/adapter/mcp"
	"chatcore/internal/adapter/store"
	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
	"chatcore/internal/infra/logger"
	"chatcore/internal/infra/tracer"
	"chatcore/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	provider   string
	model      string
	apiKey     string
	baseURL    string
	system     string
	noStream   bool
	listModels bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "config.yaml", "config file path")
	flag.StringVar(&f.provider, "provider", "", "provider type (openai, anthropic, gemini, openrouter, custom)")
	flag.StringVar(&f.model, "model", "", "model name")
	flag.StringVar(&f.apiKey, "key", "", "provider API key")
	flag.StringVar(&f.baseURL, "base-url", "", "provider base URL (custom providers)")
	flag.StringVar(&f.system, "system", "", "system prompt for the session")
	flag.BoolVar(&f.noStream, "no-stream", false, "use blocking exchanges instead of streaming")
	flag.BoolVar(&f.listModels, "models", false, "list the provider's models and exit")
	flag.Parse()
	return f
}

func run() error {
	f := parseFlags()

	cfg := config.Default()
	if loaded, err := config.Load(f.configPath); err == nil {
		cfg = loaded
	} else if !os.IsNotExist(errors.Unwrap(err)) {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	db, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := resolveProvider(ctx, db, f)
	if err != nil {
		return err
	}

	httpClient := llm.NewHTTPClient(cfg.HTTP)
	client := llm.NewBreakerClient(llm.NewClient(provider, httpClient, log), cfg.Breaker, log)

	if f.listModels {
		models, err := client.Models(ctx)
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Println(m)
		}
		return nil
	}

	model := f.model
	if model == "" {
		return errors.New("no model selected, pass -model")
	}
	chosen := domain.ChatModel{ProviderID: provider.ID, ModelName: model, IsEnabled: true}
	if err := db.AddManualModel(ctx, &chosen); err != nil {
		log.Warn("recording model failed", "error", err)
	}

	memory := usecase.NewMemoryService(db, cfg.Memory, log)

	manager := mcp.NewManager(db, httpClient, cfg.MCP, log)
	if err := manager.RefreshServers(ctx); err != nil {
		log.Warn("refreshing MCP servers failed", "error", err)
	}
	defer manager.DisconnectAll()
	servers, err := db.ListMCPServers(ctx)
	if err != nil {
		return err
	}
	for _, server := range servers {
		if !server.Enabled {
			continue
		}
		if err := manager.SyncTools(ctx, server.ID); err != nil {
			log.Warn("MCP server unavailable", "server", server.Identifier, "error", err)
		}
	}

	engine := usecase.NewChatEngine(db, client, memory, manager, cfg.Engine, log)

	conv := domain.Conversation{
		Title:            "cli session",
		Temperature:      0.7,
		SystemPrompt:     f.system,
		StreamingEnabled: !f.noStream,
		SelectedModelID:  model,
	}
	if err := db.CreateConversation(ctx, &conv); err != nil {
		return err
	}
	for _, server := range servers {
		if server.Enabled {
			if err := db.SelectServer(ctx, conv.ID, server.ID); err != nil {
				log.Warn("selecting MCP server failed", "server", server.Identifier, "error", err)
			}
		}
	}

	return chatLoop(ctx, engine, db, conv, log)
}

// chatLoop reads user turns from stdin. Ctrl-C cancels the in-flight turn
// without ending the session; EOF or /quit ends it.
func chatLoop(ctx context.Context, engine *usecase.ChatEngine, db *store.Store, conv domain.Conversation, log *slog.Logger) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			engine.CancelTurn(conv.ID)
		}
	}()

	fmt.Println("chatcore ready. /quit to exit, /reset to clear context.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/reset":
			if err := resetContext(ctx, db, conv.ID); err != nil {
				log.Error("resetting context failed", "error", err)
			} else {
				fmt.Println("context cleared")
			}
			continue
		}

		msg, err := engine.RunTurn(ctx, conv.ID, line)
		if err != nil {
			log.Error("turn failed", "error", err)
		}
		if msg.ReasoningContent != "" {
			fmt.Printf("(reasoning) %s\n", msg.ReasoningContent)
		}
		fmt.Println(msg.Content)
	}
}

func resetContext(ctx context.Context, db *store.Store, conversationID string) error {
	conv, err := db.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	return db.ResetContext(ctx, conv.ID, conv.UpdatedAt)
}

// resolveProvider uses the flag-specified provider when given, persisting it
// for later sessions; otherwise it falls back to the first active persisted
// provider.
func resolveProvider(ctx context.Context, db *store.Store, f flags) (domain.Provider, error) {
	if f.provider != "" {
		p := domain.Provider{
			Nickname: f.provider,
			Type:     domain.ProviderType(f.provider),
			BaseURL:  f.baseURL,
			APIKey:   f.apiKey,
			IsActive: true,
		}
		switch p.Type {
		case domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderGemini,
			domain.ProviderOpenRouter, domain.ProviderCustom:
		default:
			return domain.Provider{}, fmt.Errorf("unknown provider type %q", f.provider)
		}
		if p.Type == domain.ProviderCustom && p.BaseURL == "" {
			return domain.Provider{}, errors.New("custom providers need -base-url")
		}
		if err := db.SaveProvider(ctx, &p); err != nil {
			return domain.Provider{}, err
		}
		return p, nil
	}

	providers, err := db.ListProviders(ctx)
	if err != nil {
		return domain.Provider{}, err
	}
	for _, p := range providers {
		if p.IsActive {
			return p, nil
		}
	}
	return domain.Provider{}, errors.New("no provider configured, pass -provider and -key")
}
