// Command kiseki exercises the SDK against a configured collector.
//
//	kiseki emit   — run a small sample trace through the configured transport
//	kiseki check  — verify collector connectivity and credentials
//
// Configuration comes from the environment (KISEKI_* variables, .env honored).
// With KISEKI_TRANSPORT=stdio, emit prints marker-prefixed trace lines instead
// of exporting over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kiseki"
	"github.com/ashita-ai/kiseki/client"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KISEKI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		return errors.New("usage: kiseki <emit|check>")
	}

	switch os.Args[1] {
	case "emit":
		return emit(ctx, logger)
	case "check":
		return check(ctx)
	default:
		return fmt.Errorf("unknown command %q (want emit or check)", os.Args[1])
	}
}

// emit runs a sample trace: one root chain span with an LLM child and a tool
// child, inside an instance start/finish bracket.
func emit(ctx context.Context, logger *slog.Logger) error {
	sdk, err := kiseki.New(
		kiseki.WithLogger(logger),
		kiseki.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("init sdk: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := sdk.Close(closeCtx); err != nil {
			logger.Warn("sdk close", "error", err)
		}
	}()

	sdk.StartInstance(kiseki.InstanceOptions{})

	ctx, root := sdk.StartSpan(ctx, kiseki.SpanOptions{
		Name:     "sample-run",
		SpanType: kiseki.SpanTypeChain,
		Inputs:   map[string]any{"prompt": "What is the weather in Tokyo?"},
	})

	ctx, llm := sdk.StartSpan(ctx, kiseki.SpanOptions{
		Name:     "plan",
		SpanType: kiseki.SpanTypeLLM,
		Inputs:   map[string]any{"model": "demo-model"},
	})
	sdk.EndSpan(ctx, llm, kiseki.EndOptions{
		Outputs:    map[string]any{"tool": "weather"},
		TokenUsage: &kiseki.TokenUsage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
	})

	err = sdk.Run(ctx, kiseki.SpanOptions{
		Name:     "weather-lookup",
		SpanType: kiseki.SpanTypeTool,
		Inputs:   map[string]any{"city": "Tokyo"},
	}, func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if err != nil {
		return fmt.Errorf("tool span: %w", err)
	}

	sdk.EndSpan(ctx, root, kiseki.EndOptions{
		Outputs: map[string]any{"answer": "sunny"},
	})
	sdk.FinishInstance()

	logger.Info("sample trace emitted", "trace_id", root.TraceID())
	return nil
}

// check verifies that the configured credentials can reach the collector's
// resource API.
func check(ctx context.Context) error {
	c, err := client.New(client.Config{
		BaseURL: os.Getenv("KISEKI_BASE_URL"),
		APIKey:  os.Getenv("KISEKI_API_KEY"),
		AgentID: os.Getenv("KISEKI_AGENT_ID"),
	})
	if err != nil {
		return err
	}

	account, err := c.Account(ctx)
	if err != nil {
		return fmt.Errorf("collector unreachable: %w", err)
	}
	fmt.Printf("ok: authenticated as account %s (%s)\n", account.Name, account.ID)
	return nil
}
