package app

import (
	"fmt"
	"io"
)

// Command はサブコマンドを表す。
type Command string

const (
	// CommandServe はAPIサーバー（REST・WebSocket）を起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを定期削除するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIサーバーの/healthを確認する。
	// シェルのないdistrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示する。
	CommandHelp Command = "help"
)

var commandSummaries = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "start the API server (default)"},
	{CommandWorker, "delete expired sessions periodically"},
	{CommandMigrate, "apply database migrations and exit"},
	{CommandHealthcheck, "check /health of a running server"},
	{CommandHelp, "show this help"},
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数がない場合と未知の値はCommandServeになる。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	for _, c := range commandSummaries {
		if string(c.cmd) == args[0] {
			return c.cmd
		}
	}
	if args[0] == "-h" || args[0] == "--help" {
		return CommandHelp
	}
	return CommandServe
}

// NeedsConfig は環境変数の読み込みとログの初期化が必要かを返す。
func (c Command) NeedsConfig() bool {
	return c != CommandHealthcheck && c != CommandHelp
}

// writeUsage はサブコマンドの一覧を書き出す。
func writeUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: ieltsprep [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commandSummaries {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.summary)
	}
}
