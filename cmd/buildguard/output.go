package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	pb "github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"buildguard-desktop/internal/export"
	"buildguard-desktop/internal/services/exports"
)

const barTemplate = `{{string . "prefix"}}{{bar . "[" "=" ">" "-" "]"}} {{percent . }} {{etime . }}`

// progressEmitter draws export session events as a progress bar
type progressEmitter struct {
	mu  sync.Mutex
	bar *pb.ProgressBar
}

func newProgressEmitter(w io.Writer) *progressEmitter {
	bar := pb.New(100)
	bar.SetTemplate(pb.ProgressBarTemplate(barTemplate))
	bar.SetWriter(w)
	return &progressEmitter{bar: bar}
}

func (e *progressEmitter) Emit(name string, payload interface{}) {
	ev, ok := payload.(exports.SessionEvent)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.State.Status {
	case export.StatusIdle:
		return
	case export.StatusExporting, export.StatusPolling:
		if !e.bar.IsStarted() {
			e.bar.Set("prefix", ev.ResourceName+" ")
			e.bar.Start()
		}
		e.bar.SetCurrent(int64(ev.State.Progress))
	case export.StatusCompleted, export.StatusError:
		if e.bar.IsStarted() {
			e.bar.SetCurrent(int64(ev.State.Progress))
			e.bar.Finish()
		}
	}
}

// renderTable writes rows as an aligned, borderless table
func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(data)
	table.Render()
}

// historyRows flattens history entries for renderTable
func historyRows(entries []exports.HistoryEntry, now time.Time) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		started := e.StartedAt
		if t, err := time.Parse(time.RFC3339, e.StartedAt); err == nil {
			started = humanize.RelTime(t, now, "ago", "from now")
		}
		rows = append(rows, []string{e.ResourceName, e.Format, e.Mode, e.Status, e.Trigger, started, e.Summary})
	}
	return rows
}

// describeFile formats a saved file as "path (size)"
func describeFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path
	}
	return fmt.Sprintf("%s (%s)", path, humanize.Bytes(uint64(info.Size())))
}
