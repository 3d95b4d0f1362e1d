// list.go renders Docker listings as aligned tables.
//
// list.goはDockerの一覧を揃えたテーブルとして表示します。
package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/YujiSuzuki/ai-sandbox-dkmcp/dkguard/internal/docker"
)

// newTable creates a tabwriter for formatted table output.
// Parameters: output, minwidth, tabwidth, padding, padchar, flags
//
// newTableはフォーマットされたテーブル出力用のtabwriterを作成します。
// パラメータ：出力、最小幅、タブ幅、パディング、パディング文字、フラグ
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printContainerTable prints containers in a formatted table.
// If no containers are found, it prints a message indicating this.
//
// printContainerTableはコンテナをフォーマットされたテーブルで表示します。
// コンテナが見つからない場合は、その旨のメッセージを表示します。
func printContainerTable(out io.Writer, containers []docker.ContainerInfo) error {
	if len(containers) == 0 {
		fmt.Fprintln(out, "No containers found.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "NAME\tID\tIMAGE\tSTATE\tSTATUS\tPORTS")
	fmt.Fprintln(w, "----\t--\t-----\t-----\t------\t-----")
	for _, c := range containers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Name, c.ID, c.Image, c.State, c.Status, formatPortsForDisplay(c.Ports))
	}
	return w.Flush()
}

// printImageTable prints images, one row per image with its tags joined.
// printImageTableはイメージをタグを結合した1行ずつで表示します。
func printImageTable(out io.Writer, images []docker.ImageInfo) error {
	if len(images) == 0 {
		fmt.Fprintln(out, "No images found.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tTAGS\tSIZE\tCREATED")
	fmt.Fprintln(w, "--\t----\t----\t-------")
	for _, img := range images {
		tags := "<none>"
		if len(img.Tags) > 0 {
			tags = strings.Join(img.Tags, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", img.ID, tags, img.Size, formatUnix(img.Created))
	}
	return w.Flush()
}

// printVolumeTable prints volumes with their labels as "k=v" pairs.
// printVolumeTableはボリュームをラベル（"k=v" 形式）と共に表示します。
func printVolumeTable(out io.Writer, volumes []docker.VolumeInfo) error {
	if len(volumes) == 0 {
		fmt.Fprintln(out, "No volumes found.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "NAME\tDRIVER\tLABELS")
	fmt.Fprintln(w, "----\t------\t------")
	for _, v := range volumes {
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.Name, v.Driver, formatLabels(v.Labels))
	}
	return w.Flush()
}

// formatPortsForDisplay formats port list for CLI table display.
// If no ports, returns "-". If too long, truncates with "...".
//
// formatPortsForDisplayはCLIテーブル表示用にポートリストをフォーマットします。
// ポートがない場合は"-"を返します。長すぎる場合は"..."で切り詰めます。
func formatPortsForDisplay(ports []string) string {
	if len(ports) == 0 {
		return "-"
	}

	portsStr := strings.Join(ports, ", ")

	// Truncate if too long (max 40 characters for readability).
	// 読みやすさのため、長すぎる場合は切り詰めます（最大40文字）。
	const maxLen = 40
	if len(portsStr) > maxLen {
		portsStr = portsStr[:maxLen-3] + "..."
	}

	return portsStr
}

// formatLabels renders labels sorted by key, or "-" when there are none.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + labels[k]
	}
	return strings.Join(pairs, ",")
}

func formatUnix(sec int64) string {
	if sec <= 0 {
		return "-"
	}
	return time.Unix(sec, 0).Format(time.DateTime)
}
