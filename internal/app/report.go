package app

import (
	"fmt"
	"io"
	"sort"
	"time"

	"facedetect/internal/model"
	"facedetect/internal/service/pipeline"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	return t
}

// renderDetections prints one image's detections as Class / Confidence % rows.
func renderDetections(w io.Writer, detections []model.Detection) {
	t := newTable()
	t.AppendHeader(table.Row{"#", "Class", "Confidence %", "Box"})
	for i, d := range detections {
		t.AppendRow(table.Row{
			i + 1,
			d.Label,
			fmt.Sprintf("%.2f", d.Confidence*100),
			fmt.Sprintf("%d,%d %dx%d", d.X, d.Y, d.Width, d.Height),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	fmt.Fprintln(w, t.Render())
}

// renderItems prints the outcome of an image or folder run.
func renderItems(w io.Writer, s *pipeline.Summary) {
	if s == nil {
		return
	}
	for _, item := range s.Items {
		if item.Err != nil {
			fmt.Fprintf(w, "%s: skipped (%v)\n", item.Path, item.Err)
			continue
		}
		fmt.Fprintf(w, "%s -> %s\n", item.Path, item.Output)
		if len(item.Detections) == 0 {
			fmt.Fprintln(w, "No detections.")
			continue
		}
		renderDetections(w, item.Detections)
	}
	if s.Mode == model.ModeFolder && len(s.Items) > 0 {
		renderTotals(w, s)
	}
}

// renderVideo prints the totals of a video run.
func renderVideo(w io.Writer, s *pipeline.Summary) {
	renderTotals(w, s)
}

func renderTotals(w io.Writer, s *pipeline.Summary) {
	t := newTable()
	t.SetTitle("%s run: %s", s.Mode, s.State)
	t.AppendRow(table.Row{"Source", s.Source})
	if s.Output != "" {
		t.AppendRow(table.Row{"Output", s.Output})
	}
	if s.Mode == model.ModeVideo && s.Props.FPS > 0 {
		t.AppendRow(table.Row{"Stream", fmt.Sprintf("%dx%d @ %.2f fps", s.Props.Width, s.Props.Height, s.Props.FPS)})
	}
	t.AppendRow(table.Row{"Frames read", s.FramesRead})
	t.AppendRow(table.Row{"Frames written", s.FramesWritten})
	if s.Skipped > 0 {
		t.AppendRow(table.Row{"Skipped", s.Skipped})
	}
	t.AppendRow(table.Row{"Detections", s.Detections})
	for _, label := range sortedLabels(s.LabelCounts) {
		t.AppendRow(table.Row{"  " + label, s.LabelCounts[label]})
	}
	t.AppendRow(table.Row{"Duration", s.Duration().Round(time.Millisecond)})
	fmt.Fprintln(w, t.Render())
}

// renderRuns prints the run history.
func renderRuns(w io.Writer, runs []model.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}

	t := newTable()
	t.AppendHeader(table.Row{"ID", "Mode", "Source", "State", "Frames", "Detections", "Started", "Duration"})
	for _, r := range runs {
		duration := ""
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Mode,
			text.Trim(r.Source, 40),
			r.State,
			r.Frames,
			r.Detections,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
		})
	}
	fmt.Fprintln(w, t.Render())
}

func sortedLabels(counts map[string]int) []string {
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
