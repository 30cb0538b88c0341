package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/pipeline"
	"github.com/yegors/diarscribe/internal/storage/sqlite"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Stage(e pipeline.Event) {
	switch e.Stage {
	case pipeline.StageLoad:
		fmt.Fprintf(f.w, "📂 Loading %v\n", e.Data["source"])
	case pipeline.StageEnhance:
		fmt.Fprintf(f.w, "🎚️  %s\n", e.Message)
	case pipeline.StageDiarize:
		fmt.Fprintf(f.w, "👥 Identifying speakers...\n")
	case pipeline.StageTranscribe:
		if batch, ok := e.Data["batch"]; ok {
			fmt.Fprintf(f.w, "   batch %v/%v", batch, e.Data["batches"])
			if failed, _ := e.Data["failed"].(int); failed > 0 {
				fmt.Fprintf(f.w, " (%d turns failed)", failed)
			}
			fmt.Fprintln(f.w)
			return
		}
		fmt.Fprintf(f.w, "📝 Transcribing %v turns...\n", e.Data["turns"])
	}
}

func (f *Formatter) RecordingStarted(maxDuration time.Duration) {
	if maxDuration > 0 {
		fmt.Fprintf(f.w, "🎙️  Recording for %s (Ctrl+C to stop early)\n", formatDuration(maxDuration))
		return
	}
	fmt.Fprintf(f.w, "🎙️  Recording... press Ctrl+C to stop\n")
}

func (f *Formatter) RecordingStopped(duration time.Duration) {
	fmt.Fprintf(f.w, "⏹️  Recording stopped (%s)\n", formatDuration(duration))
}

func (f *Formatter) TranscriptSaved(path string) {
	fmt.Fprintf(f.w, "✅ Transcript saved: %s\n", path)
}

func (f *Formatter) TranscriptStored(id string) {
	fmt.Fprintf(f.w, "🗄️  Stored as %s\n", id)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

func (f *Formatter) Metadata(m audio.Metadata) {
	tw := tabwriter.NewWriter(f.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", m.Name)
	fmt.Fprintf(tw, "Format:\t%s (%s)\n", m.Format, m.Encoding)
	fmt.Fprintf(tw, "Sample rate:\t%s Hz\n", humanize.Comma(int64(m.SampleRate)))
	fmt.Fprintf(tw, "Channels:\t%d\n", m.Channels)
	fmt.Fprintf(tw, "Duration:\t%s\n", formatDuration(m.Duration))
	if m.SizeBytes > 0 {
		fmt.Fprintf(tw, "Size:\t%s\n", humanize.Bytes(uint64(m.SizeBytes)))
	}
	if m.Transformations > 0 {
		fmt.Fprintf(tw, "Transformations:\t%d\n", m.Transformations)
	}
	tw.Flush()
}

func (f *Formatter) Devices(inputFormat string, devices []audio.Device) {
	if len(devices) == 0 {
		f.Warning(fmt.Sprintf("No %s capture devices found", inputFormat))
		return
	}
	fmt.Fprintf(f.w, "🎤 %s capture devices:\n", inputFormat)
	tw := tabwriter.NewWriter(f.w, 0, 0, 2, ' ', 0)
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", marker, d.ID, d.Description)
	}
	tw.Flush()
	fmt.Fprintln(f.w, "Set audio.capture_device to the device ID to record from it.")
}

func (f *Formatter) TranscriptList(records []*sqlite.TranscriptRecord) {
	if len(records) == 0 {
		f.Info("No transcripts found")
		return
	}
	tw := tabwriter.NewWriter(f.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tDURATION\tSPEAKERS\tSEGMENTS\tCREATED")
	for _, r := range records {
		segments := fmt.Sprintf("%d", r.SegmentCount)
		if r.FailedCount > 0 {
			segments = fmt.Sprintf("%d (%d failed)", r.SegmentCount, r.FailedCount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			r.Source,
			formatDuration(time.Duration(r.Duration*float64(time.Second))),
			r.SpeakerCount,
			segments,
			humanize.Time(r.CreatedAt))
	}
	tw.Flush()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
