// docker.go implements the 'docker' command group. Every subcommand maps to
// one Docker operation type and goes through the policy gate.
//
// docker.goは'docker'コマンドグループを実装します。各サブコマンドは
// 1つのDocker操作タイプに対応し、ポリシーゲートを経由します。
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/docker"
	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/gateway"
)

var (
	flagLogsTail  string
	flagLogsSince string

	flagStopTime    int
	flagRemoveForce bool

	flagCreate       docker.CreateRequest
	flagCreateLabels []string
	flagVolumeLabels []string
)

// dockerCmd groups the Docker operations.
// dockerCmdはDocker操作をまとめます。
var dockerCmd = &cobra.Command{
	Use:   "docker",
	Short: "Run Docker operations through the policy gate",
	Long: `Run Docker operations through the policy gate. Each subcommand is evaluated as
an "operation[:target]" string against the docker rules, for example
"start_container:dev-api" or "pull_image:nginx:1.27".`,
}

// dockerFunc is the body of a Docker subcommand.
type dockerFunc func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error

// runDocker builds the gate, runs fn and maps a denial to exit status 126.
// runDockerはゲートを構築してfnを実行し、拒否を終了ステータス126に対応付けます。
func runDocker(cmd *cobra.Command, fn dockerFunc) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	g, client, err := a.dockerGate()
	if err != nil {
		return err
	}
	defer client.Close()

	return deniedExit(fn(cmd.Context(), g, cmd.OutOrStdout()))
}

var dockerPsCmd = &cobra.Command{
	Use:     "ps",
	Aliases: []string{"list"},
	Short:   "List containers (list_containers)",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			list, err := g.ListContainers(ctx)
			if err != nil {
				return err
			}
			return printContainerTable(out, list)
		})
	},
}

var dockerInspectCmd = &cobra.Command{
	Use:   "inspect <container>",
	Short: "Show container details as JSON (inspect_container)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			data, err := g.InspectContainer(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, data)
			return nil
		})
	},
}

var dockerLogsCmd = &cobra.Command{
	Use:   "logs <container>",
	Short: "Show container logs (container_logs)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			logs, err := g.ContainerLogs(ctx, args[0], flagLogsTail, flagLogsSince)
			if err != nil {
				return err
			}
			fmt.Fprint(out, logs)
			return nil
		})
	},
}

var dockerCreateCmd = &cobra.Command{
	Use:   "create <image> [command...]",
	Short: "Create a container (create_container:<image>)",
	Long: `Create a container. The operation string is "create_container:<image>" and the
matched rule's constraints (no_privileged, allowed_mounts, resource_limits, ...)
are checked against the full container configuration.`,
	Example: `  dkguard docker create --name dev-web -p 8080:80 --memory 512m nginx:1.27`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := parseLabels(flagCreateLabels)
		if err != nil {
			return err
		}
		req := flagCreate
		req.Image = args[0]
		req.Cmd = args[1:]
		req.Labels = labels

		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			id, err := g.CreateContainer(ctx, &req)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, id)
			return nil
		})
	},
}

// containerCommand builds the start/stop/restart/rm subcommands, which take
// one container name.
func containerCommand(use, short string, fn func(ctx context.Context, g *gateway.DockerGate, name string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <container>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
				if err := fn(ctx, g, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(out, args[0])
				return nil
			})
		},
	}
}

var (
	dockerStartCmd = containerCommand("start", "Start a container (start_container)",
		func(ctx context.Context, g *gateway.DockerGate, name string) error {
			return g.StartContainer(ctx, name)
		})

	dockerStopCmd = containerCommand("stop", "Stop a container (stop_container)",
		func(ctx context.Context, g *gateway.DockerGate, name string) error {
			return g.StopContainer(ctx, name, stopTimeout())
		})

	dockerRestartCmd = containerCommand("restart", "Restart a container (restart_container)",
		func(ctx context.Context, g *gateway.DockerGate, name string) error {
			return g.RestartContainer(ctx, name, stopTimeout())
		})

	dockerRmCmd = containerCommand("rm", "Remove a container (remove_container)",
		func(ctx context.Context, g *gateway.DockerGate, name string) error {
			return g.RemoveContainer(ctx, name, flagRemoveForce)
		})
)

var dockerImagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List images (list_images)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			list, err := g.ListImages(ctx)
			if err != nil {
				return err
			}
			return printImageTable(out, list)
		})
	},
}

var dockerPullCmd = &cobra.Command{
	Use:   "pull <image>",
	Short: "Pull an image (pull_image)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			if err := g.PullImage(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "pulled %s\n", args[0])
			return nil
		})
	},
}

var dockerRmiCmd = &cobra.Command{
	Use:   "rmi <image>",
	Short: "Remove an image (remove_image)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			if err := g.RemoveImage(ctx, args[0], flagRemoveForce); err != nil {
				return err
			}
			fmt.Fprintln(out, args[0])
			return nil
		})
	},
}

var dockerVolumesCmd = &cobra.Command{
	Use:   "volumes",
	Short: "List volumes (list_volumes)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			list, err := g.ListVolumes(ctx)
			if err != nil {
				return err
			}
			return printVolumeTable(out, list)
		})
	},
}

var dockerVolumeCreateCmd = &cobra.Command{
	Use:   "volume-create <name>",
	Short: "Create a volume (create_volume)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := parseLabels(flagVolumeLabels)
		if err != nil {
			return err
		}
		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			v, err := g.CreateVolume(ctx, args[0], labels)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, v.Name)
			return nil
		})
	},
}

var dockerVolumeRmCmd = &cobra.Command{
	Use:   "volume-rm <name>",
	Short: "Remove a volume (remove_volume)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocker(cmd, func(ctx context.Context, g *gateway.DockerGate, out io.Writer) error {
			if err := g.RemoveVolume(ctx, args[0], flagRemoveForce); err != nil {
				return err
			}
			fmt.Fprintln(out, args[0])
			return nil
		})
	},
}

// stopTimeout returns nil for the daemon default when --time is negative.
func stopTimeout() *int {
	if flagStopTime < 0 {
		return nil
	}
	t := flagStopTime
	return &t
}

// parseLabels converts "key=value" flags into a map.
// parseLabelsは "key=value" 形式のフラグをマップに変換します。
func parseLabels(specs []string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(specs))
	for _, s := range specs {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid label %q: expected key=value", s)
		}
		labels[k] = v
	}
	return labels, nil
}

func init() {
	dockerLogsCmd.Flags().StringVar(&flagLogsTail, "tail", "100", "Number of lines to show from the end of the logs")
	dockerLogsCmd.Flags().StringVar(&flagLogsSince, "since", "", "Show logs since timestamp (e.g. 2024-01-01T00:00:00Z) or relative (e.g. 42m)")

	cf := dockerCreateCmd.Flags()
	cf.StringVar(&flagCreate.Name, "name", "", "Container name")
	cf.StringArrayVarP(&flagCreate.Env, "env", "e", nil, "Environment variable (KEY=value)")
	cf.StringArrayVar(&flagCreate.Binds, "volume", nil, "Bind mount (source:target[:mode])")
	cf.StringArrayVarP(&flagCreate.Ports, "publish", "p", nil, "Publish a port ([ip:]host:container[/proto])")
	cf.StringArrayVarP(&flagCreateLabels, "label", "l", nil, "Label (key=value)")
	cf.StringVarP(&flagCreate.Workdir, "workdir", "w", "", "Working directory inside the container")
	cf.StringVarP(&flagCreate.Memory, "memory", "m", "", "Memory limit (e.g. 512m, 2g)")
	cf.Float64Var(&flagCreate.CPUs, "cpus", 0, "Number of CPUs")
	cf.BoolVar(&flagCreate.Privileged, "privileged", false, "Give extended privileges to the container")
	cf.StringVar(&flagCreate.NetworkMode, "network", "", "Network mode (bridge, host, none, or a network name)")

	for _, c := range []*cobra.Command{dockerStopCmd, dockerRestartCmd} {
		c.Flags().IntVarP(&flagStopTime, "time", "t", -1, "Seconds to wait before killing the container (default: daemon default)")
	}
	for _, c := range []*cobra.Command{dockerRmCmd, dockerRmiCmd, dockerVolumeRmCmd} {
		c.Flags().BoolVarP(&flagRemoveForce, "force", "f", false, "Force removal")
	}

	dockerVolumeCreateCmd.Flags().StringArrayVarP(&flagVolumeLabels, "label", "l", nil, "Label (key=value)")

	dockerCmd.AddCommand(
		dockerPsCmd, dockerInspectCmd, dockerLogsCmd, dockerCreateCmd,
		dockerStartCmd, dockerStopCmd, dockerRestartCmd, dockerRmCmd,
		dockerImagesCmd, dockerPullCmd, dockerRmiCmd,
		dockerVolumesCmd, dockerVolumeCreateCmd, dockerVolumeRmCmd,
	)
	rootCmd.AddCommand(dockerCmd)
}
