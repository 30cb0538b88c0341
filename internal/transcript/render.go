package transcript

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Line is one parsed line of a rendered transcript
type Line struct {
	Start   float64
	End     float64
	Speaker string
	Text    string
	Failed  bool
}

var linePattern = regexp.MustCompile(`^\[(\d{2,}):(\d{2}):(\d{2})\.(\d{3})–(\d{2,}):(\d{2}):(\d{2})\.(\d{3})\] ([^:\n]+): (.*)$`)

// FormatTimestamp renders seconds as HH:MM:SS.mmm
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// Render returns the plain-text form of a transcript, one line per segment
func Render(t *Transcript) string {
	var b strings.Builder
	_ = write(&b, t)
	return b.String()
}

func write(w io.Writer, t *Transcript) error {
	for _, s := range t.Segments {
		text := s.Text
		if s.Failed {
			text = FailedMarker
		}
		if _, err := fmt.Fprintf(w, "[%s–%s] %s: %s\n",
			FormatTimestamp(s.Start), FormatTimestamp(s.End), t.DisplayName(s.SpeakerID), text); err != nil {
			return err
		}
	}
	return nil
}

// Parse reads rendered transcript text back into lines. Blank lines are skipped.
func Parse(text string) ([]Line, error) {
	var lines []Line
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	n := 0
	for scanner.Scan() {
		n++
		raw := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		m := linePattern.FindStringSubmatch(raw)
		if m == nil {
			return nil, fmt.Errorf("line %d: not a transcript line: %q", n, raw)
		}
		line := Line{
			Start:   parseTimestamp(m[1:5]),
			End:     parseTimestamp(m[5:9]),
			Speaker: m[9],
			Text:    m[10],
		}
		if line.Text == FailedMarker {
			line.Text = ""
			line.Failed = true
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return lines, nil
}

func parseTimestamp(parts []string) float64 {
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.Atoi(parts[2])
	ms, _ := strconv.Atoi(parts[3])
	return float64(h*3600+m*60+s) + float64(ms)/1000
}
