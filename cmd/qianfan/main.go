package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	case "version", "--version":
		fmt.Println("qianfan " + version)
		return
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "embed":
		err = runEmbed(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'qianfan --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`qianfan - Baidu QianFan chat and embedding client

USAGE:
    qianfan COMMAND [FLAGS] [ARGS]

COMMANDS:
    chat        Send a prompt and print the completion
    embed       Print embeddings for up to 16 texts
    version     Print the version

CHAT FLAGS:
    --config PATH         Config file path (default: ./config.yaml)
    -s, --stream          Stream the completion as it is generated
    --system TEXT         System message
    -m, --model NAME      Model name
    -t, --temperature F   Sampling temperature
    --max-tokens N        Maximum completion tokens
    --tools a,b           Enable built-in tools by name (current_time, word_count)
    --no-tool-exec        Return tool calls instead of executing them
    --json-schema PATH    Require JSON output matching the schema file
    -i, --interactive     Read prompts from stdin until EOF

EMBED FLAGS:
    --config PATH         Config file path (default: ./config.yaml)
    --json                Print vectors as JSON

CONFIGURATION:
    Config file: ./config.yaml
    Environment: QIANFAN_* variables override config (QIANFAN_API_KEY is required)

EXAMPLES:
    qianfan chat "Write a haiku about Go"
    qianfan chat --stream --system "Be terse" "Explain goroutines"
    qianfan chat --tools current_time "What time is it in Shanghai?"
    qianfan embed "hello" "world"`)
}
