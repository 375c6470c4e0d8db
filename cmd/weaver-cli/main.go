// Weaver CLI — инструмент командной строки для просмотра flow runs
// и управления deployments через Record Store.
//
// Использование:
//
//	weaver [--config PATH] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	flow-run    Просмотр flow runs
//	deployment  Управление deployments
//	logs        Логи runs
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Weaver/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := cli.NewRootCmd(cli.Options{Version: version})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
