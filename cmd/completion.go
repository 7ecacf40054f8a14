package cmd

import (
	"fmt"
	"io"
)

// Completion writes the completion script for shell
func Completion(w io.Writer, shell string) error {
	switch shell {
	case "bash":
		fmt.Fprint(w, bashCompletion)
	case "zsh":
		fmt.Fprint(w, zshCompletion)
	case "fish":
		fmt.Fprint(w, fishCompletion)
	default:
		return fmt.Errorf("unknown shell: %s\nSupported: bash, zsh, fish", shell)
	}
	return nil
}

const bashCompletion = `_pinvault() {
    local cur prev words cword
    _init_completion || return

    local commands="init unlock show import export diff status reset compact help completion"

    if [[ $cword -eq 1 ]]; then
        COMPREPLY=($(compgen -W "$commands" -- "$cur"))
        return
    fi

    local cmd="${words[1]}"
    case "$cmd" in
        show|import|export|diff)
            if [[ $cword -eq 2 || "$cmd" == show ]]; then
                COMPREPLY=($(compgen -W "$(_pinvault_records)" -- "$cur"))
            else
                _filedir json
            fi
            ;;
        reset)
            COMPREPLY=($(compgen -W "--force" -- "$cur"))
            ;;
        help)
            COMPREPLY=($(compgen -W "$commands" -- "$cur"))
            ;;
        completion)
            COMPREPLY=($(compgen -W "bash zsh fish" -- "$cur"))
            ;;
    esac
}

_pinvault_records() {
    echo "${PINVAULT_RECORDS:-tasks,timetable}" | tr ',' ' '
}

complete -F _pinvault pinvault
`

const zshCompletion = `#compdef pinvault

_pinvault() {
    local -a commands
    commands=(
        'init:Set the PIN of a new vault'
        'unlock:Unlock the vault and open a session shell'
        'show:Print records'
        'import:Replace a record from a JSON file'
        'export:Write a record to a JSON file'
        'diff:Compare a record with a JSON file'
        'status:Show vault state without a PIN'
        'reset:Delete the PIN and every record'
        'compact:Compact the vault file'
        'help:Show help for a command'
        'completion:Generate shell completions'
    )

    _arguments -C \
        '1: :->command' \
        '*: :->args'

    case "$state" in
        command)
            _describe -t commands 'pinvault commands' commands
            ;;
        args)
            case "${words[2]}" in
                show)
                    _values 'record' ${(s:,:)${PINVAULT_RECORDS:-tasks,timetable}}
                    ;;
                import|export|diff)
                    _arguments \
                        '1:record:(${(s:,:)${PINVAULT_RECORDS:-tasks,timetable}})' \
                        '2:file:_files -g "*.json"'
                    ;;
                reset)
                    _arguments '--force[Reset without confirmation]'
                    ;;
                help)
                    _describe -t commands 'pinvault commands' commands
                    ;;
                completion)
                    _values 'shell' bash zsh fish
                    ;;
            esac
            ;;
    esac
}

_pinvault "$@"
`

const fishCompletion = `# pinvault fish completions

set -l commands init unlock show import export diff status reset compact help completion

complete -c pinvault -f

# Commands
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a init -d 'Set the PIN of a new vault'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a unlock -d 'Open a session shell'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a show -d 'Print records'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a import -d 'Replace a record from a file'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a export -d 'Write a record to a file'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a diff -d 'Compare a record with a file'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a status -d 'Show vault state'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a reset -d 'Delete the PIN and every record'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a compact -d 'Compact the vault file'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a help -d 'Show help'
complete -c pinvault -n "not __fish_seen_subcommand_from $commands" -a completion -d 'Generate completions'

# record names and files
complete -c pinvault -n "__fish_seen_subcommand_from show import export diff" -a "(string split , (set -q PINVAULT_RECORDS; and echo $PINVAULT_RECORDS; or echo tasks,timetable))"
complete -c pinvault -n "__fish_seen_subcommand_from import export diff" -F

# reset flags
complete -c pinvault -n "__fish_seen_subcommand_from reset" -l force -d 'Reset without confirmation'

# help completions
complete -c pinvault -n "__fish_seen_subcommand_from help" -a "$commands"

# completion completions
complete -c pinvault -n "__fish_seen_subcommand_from completion" -a "bash zsh fish"
`
