// Package app はmediasyncのコマンドラインインターフェースを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitoshi/mediasync/internal/config"
	"github.com/hitoshi/mediasync/internal/logger"
)

// cliState はコマンド間で共有する読み込み済みの設定。
type cliState struct {
	flagConfig   string
	flagNoColor  bool
	flagLogLevel string

	v   *viper.Viper
	cfg *config.Config
}

// NewRootCmd はサブコマンドを登録したルートコマンドを生成する。
func NewRootCmd() *cobra.Command {
	st := &cliState{}

	rootCmd := &cobra.Command{
		Use:   "mediasync",
		Short: "Mirror a hosted media collection onto a content ledger",
		Long: `mediasync discovers every item of a hosted collection, downloads the media
files locally and publishes each one as a claim on a ledger daemon.

A run always executes the stages in the same order:
  resolve -> download -> publish

Configuration is read from mediasync.yaml (or --config), then MEDIASYNC_* environment
variables, then command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&st.flagConfig, "config", "", "Config file path (default: ./"+config.DefaultConfigFile+" if present)")
	rootCmd.PersistentFlags().BoolVar(&st.flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&st.flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if st.flagNoColor {
			color.NoColor = true
		}

		v, err := config.NewViper(st.flagConfig)
		if err != nil {
			return err
		}
		if err := v.BindPFlag("log_level", cmd.Flags().Lookup("log-level")); err != nil {
			return err
		}
		if f := cmd.Flags().Lookup("concurrency"); f != nil {
			if err := v.BindPFlag("download_concurrency", f); err != nil {
				return err
			}
		}

		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		st.v = v
		st.cfg = cfg
		return nil
	}

	rootCmd.AddCommand(
		newSyncCmd(st),
		newMigrateCmd(st),
		newVerifyCmd(st),
		newStatusCmd(st),
		newHealthcheckCmd(st),
	)
	return rootCmd
}

// Execute はmainから呼び出されるエントリーポイント。
func Execute() {
	// 設定読み込み前のログもJSONで出力する
	logger.SetupDefault(os.Stderr)

	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

// consoleLogger はコンソールのみに出力するロガーを返す。
func (st *cliState) consoleLogger(w io.Writer) *slog.Logger {
	level, err := logger.ParseLevel(st.cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return logger.SetupWithLevel(w, level)
}

// ok は緑のチェック付きで1行出力する。
func ok(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintln(w, color.GreenString("✓"), fmt.Sprintf(format, a...))
}

// warn は黄色の警告行を出力する。
func warn(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintln(w, color.YellowString("!"), fmt.Sprintf(format, a...))
}

// failLine は赤の×付きで1行出力する。終了はしない。
func failLine(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintln(w, color.RedString("✗"), fmt.Sprintf(format, a...))
}

// header はシアンの見出しを出力する。
func header(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintln(w, color.CyanString(fmt.Sprintf(format, a...)))
}
