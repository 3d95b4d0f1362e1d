// version.go implements the 'version' command.
// The version is set at build time using ldflags.
//
// version.goは'version'コマンドを実装します。
// バージョンはldflagsを使用してビルド時に設定されます。
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version holds the application version string.
// This is set at build time using ldflags:
// go build -ldflags "-X github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/cli.Version=1.0.0"
// The default value "dev" indicates a development build.
//
// Versionはアプリケーションのバージョン文字列を保持します。
// デフォルト値"dev"は開発ビルドを示します。
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of dkguard",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dkguard %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.Version = Version
	rootCmd.AddCommand(versionCmd)
}
