package report

import (
	"fmt"
	"strings"

	"github.com/banshee-data/spikesort/internal/version"
)

// summaryLines lists the run parameters section by section, unwrapped.
func summaryLines(in Input) []string {
	var out []string
	section := func(title string, body ...string) {
		if len(out) > 0 {
			out = append(out, "")
		}
		out = append(out, title, strings.Repeat("-", len(title)))
		out = append(out, body...)
	}

	if in.Protocol != nil {
		proto := strings.Split(strings.TrimRight(in.Protocol.String(), "\n"), "\n")
		if in.Protocol.FilePath != "" {
			proto = append([]string{"file: " + in.Protocol.FilePath}, proto...)
		}
		section("Protocol", proto...)
	}

	rec := []string{"folder: " + in.Folder}
	if a := in.Analysis; a != nil {
		rec = append(rec,
			fmt.Sprintf("sampling frequency: %g Hz", a.SamplingFrequency()),
			fmt.Sprintf("channels: %d (%s)", a.NumChannels(), strings.Join(a.Recording().ChannelIDs(), ", ")),
			fmt.Sprintf("segments: %d", a.Recording().NumSegments()),
			fmt.Sprintf("duration: %.3f s", a.DurationSeconds()),
		)
	}
	section("Recording", rec...)

	if in.Extraction != nil {
		section("Trigger", in.Extraction.String())
	} else {
		section("Trigger", "no trigger detection configured")
	}

	if in.Probe != nil {
		body := []string{fmt.Sprintf("contacts: %d", len(in.Probe.Contacts))}
		if in.Probe.Source != nil && in.Probe.Source.Path != "" {
			body = append(body, "file: "+in.Probe.Source.Path)
		}
		body = append(body, "contact ids: "+strings.Join(in.Probe.ContactIDs(), ", "))
		section("Probe", body...)
	} else {
		section("Probe", "no probe attached")
	}

	if in.Sorter != nil {
		section("Sorter", in.Sorter.String())
	}

	ts := make([]string, len(in.Triggers))
	for i, t := range in.Triggers {
		ts[i] = fmt.Sprintf("%.5f", t)
	}
	section("Timestamp parameters",
		fmt.Sprintf("%d trigger timestamps (s)", len(in.Triggers)),
		"["+strings.Join(ts, ", ")+"]",
	)

	run := []string{version.String()}
	if in.RunID != "" {
		run = append(run, "run id: "+in.RunID)
	}
	if a := in.Analysis; a != nil {
		run = append(run,
			fmt.Sprintf("units: %d, spikes: %d", len(a.UnitIDs()), a.Sorting().NumSpikes()),
			"extensions: "+strings.Join(a.Computed(), ", "),
		)
	}
	section("Run", run...)
	return out
}

// wrapLines breaks every line at width columns on word boundaries. Words
// longer than width are split. Leading indentation is kept on continuation
// lines.
func wrapLines(lines []string, width int) []string {
	var out []string
	for _, line := range lines {
		out = append(out, wrap(line, width)...)
	}
	return out
}

func wrap(line string, width int) []string {
	if len(line) <= width {
		return []string{line}
	}
	indent := line[:len(line)-len(strings.TrimLeft(line, " "))]
	if len(indent) >= width/2 {
		indent = ""
	}
	var out []string
	cur := ""
	flush := func() {
		out = append(out, cur)
		cur = indent
	}
	for _, word := range strings.Fields(line) {
		for len(indent)+len(word) > width {
			if strings.TrimSpace(cur) != "" {
				flush()
			}
			room := width - len(cur)
			cur += word[:room]
			word = word[room:]
			flush()
		}
		switch {
		case strings.TrimSpace(cur) == "":
			if cur == "" {
				cur = indent
			}
			cur += word
		case len(cur)+1+len(word) <= width:
			cur += " " + word
		default:
			flush()
			cur += word
		}
	}
	if strings.TrimSpace(cur) != "" {
		out = append(out, cur)
	}
	return out
}

// paginate splits lines into pages of at most perPage lines.
func paginate(lines []string, perPage int) [][]string {
	if perPage < 1 {
		perPage = 1
	}
	var pages [][]string
	for len(lines) > perPage {
		pages = append(pages, lines[:perPage])
		lines = lines[perPage:]
	}
	if len(lines) > 0 {
		pages = append(pages, lines)
	}
	return pages
}
