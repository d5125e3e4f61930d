// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: Apache-2.0

// pwacache is the main package for the pwacache command line tool. It wires
// the CLI, delegates to internal packages, and serves as the entry point.
package main
