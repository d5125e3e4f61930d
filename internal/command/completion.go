// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/staranto/pwacache/internal/meta"
	"github.com/urfave/cli/v3"
)

const bashCompletionScript = `# bash completion for pwacache
# Fallback if bash-completion is not installed
if ! declare -F _get_comp_words_by_ref >/dev/null 2>&1; then
  _get_comp_words_by_ref() {
    cur=${COMP_WORDS[COMP_CWORD]}
    prev=${COMP_WORDS[COMP_CWORD-1]}
  }
fi

_pwacache()
{
    local cur prev cmd
    COMPREPLY=()
    _get_comp_words_by_ref -n : cur prev

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=( $(compgen -W "activate caches install ls purge serve sync completion --help --version" -- "$cur") )
        return 0
    fi

    cmd=${COMP_WORDS[1]}
    local common="--attrs -a --color -c --filter -f --local -l --output -o --sort -s --titles -t --tldr --store"

    case "$cmd" in
        activate)
            local opts="--dry-run --store --tldr"
            ;;
        caches)
            local opts="$common"
            ;;
        install)
            local opts="--store --tldr"
            ;;
        ls)
            local opts="$common --chop"
            ;;
        purge)
            local opts="--hours --store --tldr"
            ;;
        serve)
            local opts="--listen --store --tldr"
            ;;
        sync)
            local opts="$common --list"
            ;;
        completion)
            local opts="bash zsh"
            COMPREPLY=( $(compgen -W "$opts" -- "$cur") )
            return 0
            ;;
        *)
            local opts="$common"
            ;;
    esac

    if [[ "$prev" == "--output" || "$prev" == "-o" ]]; then
        COMPREPLY=( $(compgen -W "text json raw yaml" -- "$cur") )
        return 0
    fi

    if [[ "$prev" == "--store" ]]; then
        COMPREPLY=( $(compgen -W "memory disk sqlite s3" -- "$cur") )
        return 0
    fi

    COMPREPLY=( $(compgen -W "$opts" -- "$cur") )
    return 0
}

complete -F _pwacache pwacache
`

const zshCompletionScript = `#compdef pwacache

_pwacache() {
  local -a cmds
  cmds=(
    'activate:delete obsolete caches'
    'caches:list caches'
    'install:pre-cache the static assets'
    'ls:list cached entries'
    'purge:expire old cached entries'
    'serve:run the cache controller as a proxy'
    'sync:replay queued form submissions'
    'completion:generate shell completion script'
  )

  local -a common
  common=(
  '(-a --attrs)'{-a,--attrs}'[attributes to include]:attrs'
  '(-c --color)'{-c,--color}'[enable colored text]'
  '(-f --filter)'{-f,--filter}'[filters to apply]:filters'
  '(-l --local)'{-l,--local}'[local timestamps]'
  '(-o --output)'{-o,--output}'[output format]:format:(text json raw yaml)'
  '(-s --sort)'{-s,--sort}'[sort attributes]:attrs'
  '(-t --titles)'{-t,--titles}'[show titles]'
  '--tldr[show tldr page]'
  )

  local store='--store[cache store]:store:(memory disk sqlite s3)'

  if (( CURRENT == 2 )); then
    _describe -t commands 'pwacache commands' cmds
    return
  fi

  local curcontext="$curcontext" state line
  case $words[2] in
    activate)
      _arguments -C $store '--dry-run[list only]' '--tldr[show tldr page]'
      ;;
    caches)
      _arguments -C $common $store
      ;;
    install)
      _arguments -C $store '--tldr[show tldr page]'
      ;;
    ls)
      _arguments -C $common $store '--chop[chop common origin]' '*:cache'
      ;;
    purge)
      _arguments -C $store '--hours[maximum age in hours]:hours' '--tldr[show tldr page]'
      ;;
    serve)
      _arguments -C $store '--listen[listen address]:address' '--tldr[show tldr page]'
      ;;
    sync)
      _arguments -C $common $store '--list[list queued submissions]'
      ;;
    completion)
      _arguments '1: :((bash zsh))'
      ;;
    *)
      _arguments -C $common
      ;;
  esac
}

# If this file is sourced directly (not autoloaded via fpath), ensure compsys is initialized and register the completion
if ! typeset -f compdef >/dev/null 2>&1; then
  autoload -Uz compinit && compinit -i
fi
compdef _pwacache pwacache
`

func CompletionCommandAction(ctx context.Context, cmd *cli.Command) error {
	w := writer(cmd)
	shell := ""
	if args := cmd.Args().Slice(); len(args) > 0 {
		shell = args[0]
	}
	switch shell {
	case "bash":
		fmt.Fprint(w, bashCompletionScript)
	case "zsh":
		fmt.Fprint(w, zshCompletionScript)
	default:
		// Try to detect from SHELL or print help
		sh := os.Getenv("SHELL")
		if strings.HasSuffix(sh, "zsh") {
			fmt.Fprint(w, zshCompletionScript)
		} else if strings.HasSuffix(sh, "bash") {
			fmt.Fprint(w, bashCompletionScript)
		} else {
			fmt.Fprintln(os.Stderr, "usage: pwacache completion [bash|zsh]")
			return nil
		}
	}
	return nil
}

func CompletionCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "completion",
		Usage:     "generate shell completion script",
		UsageText: "pwacache completion [bash|zsh]",
		Metadata: map[string]any{
			"meta": meta,
		},
		Action: CompletionCommandAction,
	}
}
