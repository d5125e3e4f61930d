// Copyright (c) 2026 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	md2man "github.com/cpuguy83/go-md2man/v2/md2man"
)

// docgen turns each docs/commands/<cmd>.md into a man page under
// docs/man/share/man1 and a tldr page under docs/tldr. The tldr page is what
// `pwacache <cmd> tldr` shows, so it is built from the "Short description"
// and "Quick examples" sections only.

func main() {
	var (
		repoRoot           string
		writeOnlyIfChanged bool
	)

	flag.StringVar(&repoRoot, "root", ".", "repo root (default current dir)")
	flag.BoolVar(&writeOnlyIfChanged, "only-if-changed", true, "only write files if content changed")
	flag.Parse()

	processed, err := generate(repoRoot, writeOnlyIfChanged)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("generated docs for %d commands\n", processed)
}

// generate renders a man page and a TLDR page for every command doc under
// repoRoot/docs/commands and returns how many it processed.
func generate(repoRoot string, writeOnlyIfChanged bool) (int, error) {
	commandsDir := filepath.Join(repoRoot, "docs", "commands")
	manOutDir := filepath.Join(repoRoot, "docs", "man", "share", "man1")
	tldrOutDir := filepath.Join(repoRoot, "docs", "tldr")

	for _, d := range []string{manOutDir, tldrOutDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return 0, fmt.Errorf("creating output dir %s: %w", d, err)
		}
	}

	entries, err := os.ReadDir(commandsDir)
	if err != nil {
		return 0, fmt.Errorf("reading commands dir %s: %w", commandsDir, err)
	}

	var processed int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		cmd := strings.TrimSuffix(e.Name(), ".md")
		inPath := filepath.Join(commandsDir, e.Name())
		raw, err := os.ReadFile(inPath)
		if err != nil {
			return processed, fmt.Errorf("reading %s: %w", inPath, err)
		}

		manBytes := md2man.Render(raw)
		manPath := filepath.Join(manOutDir, fmt.Sprintf("pwacache-%s.1", cmd))
		if err := writeFileIfChanged(manPath, manBytes, writeOnlyIfChanged); err != nil {
			return processed, fmt.Errorf("writing man page for %s: %w", cmd, err)
		}

		title, shortDesc := extractTitleAndShortDesc(string(raw))
		examples := extractQuickExamples(string(raw))
		tldr := buildTLDR(cmd, title, shortDesc, examples)
		tldrPath := filepath.Join(tldrOutDir, fmt.Sprintf("pwacache-%s.md", cmd))
		if err := writeFileIfChanged(tldrPath, []byte(tldr), writeOnlyIfChanged); err != nil {
			return processed, fmt.Errorf("writing TLDR for %s: %w", cmd, err)
		}

		processed++
	}

	if processed == 0 {
		return 0, fmt.Errorf("no command markdown found under %s", commandsDir)
	}
	return processed, nil
}

func fatalf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}

func writeFileIfChanged(path string, new []byte, onlyIfChanged bool) error {
	if !onlyIfChanged {
		return os.WriteFile(path, new, 0o644)
	}
	old, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return os.WriteFile(path, new, 0o644)
		}
		return err
	}
	if bytes.Equal(bytes.TrimSpace(old), bytes.TrimSpace(new)) {
		return nil
	}
	return os.WriteFile(path, new, 0o644)
}

var (
	h1Re      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	sectionRe = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	// placeholderRe matches <cache> style arguments in example commands.
	placeholderRe = regexp.MustCompile(`<([A-Za-z][\w.-]*)>`)
)

// section returns the body of the "## name" section, up to the next H2.
func section(md, name string) string {
	locs := sectionRe.FindAllStringSubmatchIndex(md, -1)
	for i, loc := range locs {
		if !strings.EqualFold(strings.TrimSpace(md[loc[2]:loc[3]]), name) {
			continue
		}
		end := len(md)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		return md[loc[1]:end]
	}
	return ""
}

func extractTitleAndShortDesc(md string) (title, short string) {
	if m := h1Re.FindStringSubmatch(md); m != nil {
		title = strings.TrimSpace(m[1])
	}

	var b strings.Builder
	for _, ln := range strings.Split(section(md, "Short description"), "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			if b.Len() > 0 {
				break
			}
			continue
		}
		b.WriteString(ln)
		b.WriteString(" ")
	}
	short = strings.TrimSpace(b.String())
	if short == "" && title != "" {
		short = title + "."
	}
	return
}

type example struct {
	Desc string
	Cmd  string
}

// extractQuickExamples reads the first fenced block of "Quick examples". A
// "# ..." line describes the command line that follows it.
func extractQuickExamples(md string) []example {
	const fence = "```"
	body := section(md, "Quick examples")
	start := strings.Index(body, fence)
	if start < 0 {
		return nil
	}
	body = body[start+len(fence):]
	end := strings.Index(body, fence)
	if end < 0 {
		return nil
	}

	var (
		exs  []example
		desc string
	)
	for _, ln := range strings.Split(body[:end], "\n") {
		ln = strings.TrimSpace(ln)
		switch {
		case ln == "":
		case strings.HasPrefix(ln, "#"):
			desc = strings.TrimSpace(strings.TrimPrefix(ln, "#"))
		default:
			if desc == "" {
				desc = "Example"
			}
			exs = append(exs, example{Desc: desc, Cmd: ln})
			desc = ""
		}
	}
	return exs
}

func buildTLDR(cmd, title, short string, exs []example) string {
	var b strings.Builder
	b.WriteString("# pwacache-" + cmd + "\n\n")
	switch {
	case short != "":
		b.WriteString("> " + short + "\n")
	case title != "":
		b.WriteString("> " + title + "\n")
	default:
		b.WriteString("> pwacache " + cmd + "\n")
	}
	b.WriteString("> More information: https://github.com/staranto/pwacache.\n\n")

	if len(exs) == 0 {
		b.WriteString("- Show help for the command:\n\n")
		b.WriteString("`pwacache " + cmd + " --help`\n")
		b.WriteString("\n")
		return b.String()
	}

	for i, ex := range exs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + strings.TrimSpace(ex.Desc) + ":\n\n")
		b.WriteString("`" + sanitizeCommand(ex.Cmd) + "`\n")
	}
	return b.String()
}

// sanitizeCommand collapses whitespace and rewrites <arg> placeholders into
// tldr's {{arg}} form.
func sanitizeCommand(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return placeholderRe.ReplaceAllString(s, "{{$1}}")
}
