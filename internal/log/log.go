// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
)

// InitLogger sets up Apex with a custom handler and a log level from the
// PWACACHE_LOG env variable.
func InitLogger() {
	level := strings.ToUpper(os.Getenv("PWACACHE_LOG"))
	if level == "" {
		level = "ERROR"
	}
	log.SetHandler(&CustomHandler{})

	// An unknown level falls back to ERROR rather than panicking like
	// log.SetLevelFromString would.
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.ErrorLevel
	}
	log.SetLevel(lvl)
}

// CustomHandler formats log messages and writes to stdout, or to Writer when
// it is set.
type CustomHandler struct {
	Writer io.Writer
}

// HandleLog implements the log.Handler interface. Fields are appended as
// sorted key=value pairs so a line reads the same on every run.
func (h *CustomHandler) HandleLog(e *log.Entry) error {
	w := h.Writer
	if w == nil {
		w = os.Stdout
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	level := strings.ToUpper(e.Level.String())

	var fields strings.Builder
	names := e.Fields.Names()
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&fields, " %s=%v", name, e.Fields.Get(name))
	}

	_, err := fmt.Fprintf(w, "%s %.1s %s%s\n", timestamp, level, e.Message, fields.String())
	return err
}
