package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/Weaver/internal/config"
	"github.com/shaiso/Weaver/internal/repo"
)

// StoreOpener открывает Record Store по конфигурации. close освобождает
// соединения.
type StoreOpener func(ctx context.Context, cfg config.Config) (store repo.Store, close func(), err error)

// Options — параметры корневой команды.
type Options struct {
	Version string

	// OpenStore — по умолчанию Postgres из database.url.
	OpenStore StoreOpener
}

// OpenPostgres — StoreOpener по умолчанию.
func OpenPostgres(ctx context.Context, cfg config.Config) (repo.Store, func(), error) {
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to record store: %w", err)
	}
	return repo.NewPostgres(pool), pool.Close, nil
}

// NewRootCmd создаёт корневую команду weaver.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.OpenStore == nil {
		opts.OpenStore = OpenPostgres
	}

	var (
		configPath string
		jsonOutput bool
		outputFlag string
		format     Format

		client  *Client
		closeFn func()
	)

	rootCmd := &cobra.Command{
		Use:           "weaver",
		Short:         "Weaver CLI — inspect flow runs and manage deployments",
		Version:       opts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if jsonOutput {
				outputFlag = string(FormatJSON)
			}
			if format, err = ParseFormat(outputFlag); err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, closeStore, err := opts.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			client = NewClient(store)
			closeFn = closeStore
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeFn != nil {
				closeFn()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "weaver.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", string(FormatTable), "Output format: table, json or yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Shorthand for --output json")

	clientFn := func() *Client { return client }
	outputFn := func() *Output {
		return NewOutput(format, rootCmd.OutOrStdout(), rootCmd.ErrOrStderr())
	}

	rootCmd.AddCommand(
		NewFlowRunCmd(clientFn, outputFn),
		NewDeploymentCmd(clientFn, outputFn),
		NewLogsCmd(clientFn, outputFn),
	)

	return rootCmd
}
