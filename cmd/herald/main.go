// Herald CLI — инструмент командной строки для trigger событий
// и просмотра jobs через HTTP API.
//
// Использование:
//
//	herald [--api-url URL] [--token TOKEN] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	event  Trigger и отмена событий
//	job    Просмотр jobs
//	token  Выпуск токена для разработки
//	watch  Поток событий выполнения jobs
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Herald/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL, token, idempotencyKey string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "herald",
		Short:         "Herald CLI — notification workflow tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("HERALD_TOKEN"), "API token (default $HERALD_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency-Key for POST requests")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client {
		return cli.NewClient(cli.ClientConfig{BaseURL: apiURL, Token: token, IdempotencyKey: idempotencyKey})
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewEventCmd(clientFn, outputFn),
		cli.NewJobCmd(clientFn, outputFn),
		cli.NewTokenCmd(outputFn),
		cli.NewWatchCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
