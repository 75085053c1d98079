// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package report renders pipeline deliverables as Markdown.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Digest is a curated podcast listening digest.
type Digest struct {
	// Title heads the digest.
	Title string

	// Goal is the listener goal the digest was curated for.
	Goal string

	// GeneratedAt stamps the digest.
	GeneratedAt time.Time

	// Mock marks digests built from canned data.
	Mock bool

	// Episodes are the curated picks, best first.
	Episodes []DigestEpisode
}

// DigestEpisode is one curated pick.
type DigestEpisode struct {
	ShowTitle string
	Publisher string
	Summary   string
	Relevance float64
	Novelty   float64
	Topics    []string
	FeedURL   string
}

// DigestWriter renders digests as Markdown.
type DigestWriter struct {
	output io.Writer
	caser  cases.Caser
}

// NewDigestWriter creates a DigestWriter that writes to output.
func NewDigestWriter(output io.Writer) *DigestWriter {
	return &DigestWriter{
		output: output,
		caser:  cases.Title(language.English),
	}
}

// Write renders the digest.
func (w *DigestWriter) Write(d *Digest) error {
	md := markdown.NewMarkdown(w.output)

	title := d.Title
	if title == "" {
		title = "Podcast Digest"
	}
	md.H1(title)
	md.PlainText("")

	w.writeHeader(md, d)
	w.writeEpisodes(md, d)
	w.writeFooter(md, d)

	return md.Build()
}

func (w *DigestWriter) writeHeader(md *markdown.Markdown, d *Digest) {
	rows := [][]string{
		{"Listener Goal", d.Goal},
		{"Generated", d.GeneratedAt.Format("2006-01-02 15:04 MST")},
		{"Picks", strconv.Itoa(len(d.Episodes))},
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	if d.Mock {
		md.Note("Built from canned sample data. Configure API keys for live results.")
		md.PlainText("")
	}
}

func (w *DigestWriter) writeEpisodes(md *markdown.Markdown, d *Digest) {
	if len(d.Episodes) == 0 {
		md.H2("Picks")
		md.PlainText("")
		md.PlainText("Nothing matched the listener goal this time.")
		md.PlainText("")
		return
	}

	md.H2("Picks")
	md.PlainText("")

	for i, ep := range d.Episodes {
		heading := fmt.Sprintf("%d. %s", i+1, ep.ShowTitle)
		if ep.Publisher != "" {
			heading += " — " + ep.Publisher
		}
		md.H3(heading)
		md.PlainText("")

		if ep.Summary != "" {
			md.PlainText(ep.Summary)
			md.PlainText("")
		}

		details := []string{
			fmt.Sprintf("Relevance: %.0f%%", ep.Relevance*100),
			fmt.Sprintf("Novelty: %.0f%%", ep.Novelty*100),
		}
		if len(ep.Topics) > 0 {
			titled := make([]string, len(ep.Topics))
			for j, topic := range ep.Topics {
				titled[j] = w.caser.String(topic)
			}
			details = append(details, "Topics: "+strings.Join(titled, ", "))
		}
		md.BulletList(details...)
		md.PlainText("")

		if ep.FeedURL != "" {
			md.PlainTextf("Feed: <%s>", ep.FeedURL)
			md.PlainText("")
		}
	}
}

func (w *DigestWriter) writeFooter(md *markdown.Markdown, d *Digest) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainText("*Curated by draftforge*")
}
