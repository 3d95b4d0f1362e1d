// commands_test.go verifies that commands are registered with the expected
// names, arguments and flags. Execution is covered in cli_test.go.
//
// commands_test.goはコマンドが期待される名前、引数、フラグで登録されていることを確認します。
// 実行はcli_test.goでテストされます。
package cli

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// subcommandNames returns the first word of each subcommand's Use.
func subcommandNames(cmd *cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[strings.Fields(c.Use)[0]] = true
	}
	return names
}

// TestRootCommandSubcommands verifies that all expected subcommands are registered.
// TestRootCommandSubcommandsはすべての期待されるサブコマンドが登録されていることを確認します。
func TestRootCommandSubcommands(t *testing.T) {
	names := subcommandNames(rootCmd)
	for _, expected := range []string{"check", "exec", "docker", "rules", "audit", "serve", "remote", "version"} {
		if !names[expected] {
			t.Errorf("Missing expected subcommand: %s", expected)
		}
	}
}

func TestRootPersistentFlags(t *testing.T) {
	tests := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{"config", "", ""},
		{"log-level", "", ""},
		{"log-file", "", ""},
		{"log-also-stderr", "", "false"},
		{"verbose", "v", "0"},
		{"session-id", "", ""},
		{"message-id", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := rootCmd.PersistentFlags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("--%s flag not found", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("Shorthand = %q, want %q", flag.Shorthand, tt.shorthand)
			}
			// session/message ids default to the environment
			if tt.name != "session-id" && tt.name != "message-id" && flag.DefValue != tt.defValue {
				t.Errorf("DefValue = %q, want %q", flag.DefValue, tt.defValue)
			}
		})
	}
}

// TestDockerSubcommands verifies that every Docker operation type has a subcommand.
// TestDockerSubcommandsはすべてのDocker操作タイプにサブコマンドがあることを確認します。
func TestDockerSubcommands(t *testing.T) {
	names := subcommandNames(dockerCmd)
	expected := []string{
		"ps", "inspect", "logs", "create", "start", "stop", "restart", "rm",
		"images", "pull", "rmi", "volumes", "volume-create", "volume-rm",
	}
	for _, e := range expected {
		if !names[e] {
			t.Errorf("Missing docker subcommand: %s", e)
		}
	}
	if len(dockerCmd.Commands()) != len(expected) {
		t.Errorf("docker has %d subcommands, want %d", len(dockerCmd.Commands()), len(expected))
	}
}

func TestRemoteSubcommands(t *testing.T) {
	names := subcommandNames(remoteCmd)
	for _, e := range []string{"health", "tools", "call", "exec"} {
		if !names[e] {
			t.Errorf("Missing remote subcommand: %s", e)
		}
	}
	flag := remoteCmd.PersistentFlags().Lookup("url")
	if flag == nil || flag.DefValue != "http://127.0.0.1:8765" {
		t.Errorf("--url flag = %+v", flag)
	}
}

func TestAuditSubcommands(t *testing.T) {
	names := subcommandNames(auditCmd)
	for _, e := range []string{"stats", "tail"} {
		if !names[e] {
			t.Errorf("Missing audit subcommand: %s", e)
		}
	}
}

// TestCommandFlags checks flag names, shorthands and default values.
// TestCommandFlagsはフラグ名、ショートハンド、デフォルト値を確認します。
func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd       *cobra.Command
		flag      string
		shorthand string
		defValue  string
	}{
		{checkCmd, "docker", "", "false"},
		{checkCmd, "workdir", "w", ""},
		{execCmd, "workdir", "w", ""},
		{dockerLogsCmd, "tail", "", "100"},
		{dockerLogsCmd, "since", "", ""},
		{dockerCreateCmd, "name", "", ""},
		{dockerCreateCmd, "env", "e", "[]"},
		{dockerCreateCmd, "volume", "", "[]"},
		{dockerCreateCmd, "publish", "p", "[]"},
		{dockerCreateCmd, "memory", "m", ""},
		{dockerCreateCmd, "cpus", "", "0"},
		{dockerCreateCmd, "privileged", "", "false"},
		{dockerCreateCmd, "network", "", ""},
		{dockerStopCmd, "time", "t", "-1"},
		{dockerRestartCmd, "time", "t", "-1"},
		{dockerRmCmd, "force", "f", "false"},
		{dockerRmiCmd, "force", "f", "false"},
		{dockerVolumeRmCmd, "force", "f", "false"},
		{dockerVolumeCreateCmd, "label", "l", "[]"},
		{serveCmd, "port", "", "0"},
		{serveCmd, "host", "", ""},
		{auditStatsCmd, "top", "", "10"},
		{auditStatsCmd, "depth", "", "2"},
		{auditStatsCmd, "kind", "", ""},
		{auditTailCmd, "lines", "n", "20"},
		{auditTailCmd, "since", "", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.Name()+"/"+tt.flag, func(t *testing.T) {
			flag := tt.cmd.Flags().Lookup(tt.flag)
			if flag == nil {
				t.Fatalf("--%s flag not found", tt.flag)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("Shorthand = %q, want %q", flag.Shorthand, tt.shorthand)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("DefValue = %q, want %q", flag.DefValue, tt.defValue)
			}
		})
	}
}

// TestCommandsHaveRunE verifies that runnable commands have RunE set.
// TestCommandsHaveRunEは実行可能なコマンドにRunEが設定されていることを確認します。
func TestCommandsHaveRunE(t *testing.T) {
	cmds := []*cobra.Command{checkCmd, execCmd, rulesCmd, serveCmd, auditStatsCmd, auditTailCmd}
	cmds = append(cmds, dockerCmd.Commands()...)
	cmds = append(cmds, remoteCmd.Commands()...)
	for _, c := range cmds {
		if c.RunE == nil {
			t.Errorf("%s should have RunE function", c.CommandPath())
		}
	}
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		cmd     *cobra.Command
		args    []string
		wantErr bool
	}{
		{checkCmd, nil, true},
		{checkCmd, []string{"ls", "-la"}, false},
		{execCmd, nil, true},
		{dockerInspectCmd, nil, true},
		{dockerInspectCmd, []string{"a", "b"}, true},
		{dockerStartCmd, []string{"web"}, false},
		{dockerPsCmd, []string{"extra"}, true},
		{dockerCreateCmd, []string{"alpine", "sh", "-c", "true"}, false},
		{rulesCmd, []string{"shell", "docker"}, true},
		{serveCmd, []string{"extra"}, true},
		{remoteCallCmd, nil, true},
		{remoteCallCmd, []string{"get_policy", "{}"}, false},
		{remoteCallCmd, []string{"get_policy", "{}", "extra"}, true},
		{remoteExecCmd, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.Name()+"/"+strings.Join(tt.args, "_"), func(t *testing.T) {
			err := tt.cmd.Args(tt.cmd, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("Args(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

// TestFormatPortsForDisplay tests the port formatting for CLI display.
// TestFormatPortsForDisplayはCLI表示用のポートフォーマットをテストします。
func TestFormatPortsForDisplay(t *testing.T) {
	tests := []struct {
		name     string
		ports    []string
		expected string
	}{
		{"empty ports", nil, "-"},
		{"empty slice", []string{}, "-"},
		{"single port", []string{"0.0.0.0:80->80/tcp"}, "0.0.0.0:80->80/tcp"},
		{"multiple ports", []string{"0.0.0.0:80->80/tcp", "443/tcp"}, "0.0.0.0:80->80/tcp, 443/tcp"},
		{
			"truncated",
			[]string{"0.0.0.0:8080->80/tcp", "0.0.0.0:8443->443/tcp", "0.0.0.0:9000->9000/tcp"},
			"0.0.0.0:8080->80/tcp, 0.0.0.0:8443->4...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatPortsForDisplay(tt.ports)
			if got != tt.expected {
				t.Errorf("formatPortsForDisplay(%v) = %q, want %q", tt.ports, got, tt.expected)
			}
			if len(got) > 40 {
				t.Errorf("len = %d, want <= 40", len(got))
			}
		})
	}
}
