package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/illarion/pinvault/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(ctx, os.Args[2:])
	case "unlock":
		err = runUnlock(ctx, os.Args[2:])
	case "show":
		err = runShow(ctx, os.Args[2:])
	case "import":
		err = runImport(ctx, os.Args[2:])
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "diff":
		err = runDiff(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx, os.Args[2:])
	case "reset":
		err = runReset(ctx, os.Args[2:])
	case "compact":
		err = runCompact(ctx, os.Args[2:])
	case "completion":
		err = runCompletion(os.Args[2:])
	case "help", "-h", "--help":
		if len(os.Args) <= 2 {
			printUsage()
			return
		}
		printCommandHelp(os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		stop()
		cmd.HandleError(err)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() { printCommandHelp(name) }
	return fs
}

// checkArgs parses args and exits unless between minArgs and maxArgs
// positional arguments remain. A negative maxArgs means no upper bound.
func checkArgs(fs *flag.FlagSet, args []string, minArgs, maxArgs int) []string {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() < minArgs || (maxArgs >= 0 && fs.NArg() > maxArgs) {
		fs.Usage()
		os.Exit(1)
	}
	return fs.Args()
}

func runInit(ctx context.Context, args []string) error {
	fs := newFlagSet("init")
	checkArgs(fs, args, 0, 0)
	return cmd.Init(ctx)
}

func runUnlock(ctx context.Context, args []string) error {
	fs := newFlagSet("unlock")
	checkArgs(fs, args, 0, 0)
	return cmd.Unlock(ctx)
}

func runShow(ctx context.Context, args []string) error {
	fs := newFlagSet("show")
	return cmd.Show(ctx, checkArgs(fs, args, 0, -1))
}

func runImport(ctx context.Context, args []string) error {
	fs := newFlagSet("import")
	rest := checkArgs(fs, args, 2, 2)
	return cmd.Import(ctx, rest[0], rest[1])
}

func runExport(ctx context.Context, args []string) error {
	fs := newFlagSet("export")
	rest := checkArgs(fs, args, 2, 2)
	return cmd.Export(ctx, rest[0], rest[1])
}

func runDiff(ctx context.Context, args []string) error {
	fs := newFlagSet("diff")
	rest := checkArgs(fs, args, 2, 2)
	return cmd.Diff(ctx, rest[0], rest[1])
}

func runStatus(ctx context.Context, args []string) error {
	fs := newFlagSet("status")
	checkArgs(fs, args, 0, 0)
	return cmd.Status(ctx)
}

func runReset(ctx context.Context, args []string) error {
	fs := newFlagSet("reset")
	force := fs.BoolP("force", "f", false, "Reset without confirmation")
	checkArgs(fs, args, 0, 0)
	return cmd.Reset(ctx, *force)
}

func runCompact(ctx context.Context, args []string) error {
	fs := newFlagSet("compact")
	checkArgs(fs, args, 0, 0)
	return cmd.Compact(ctx)
}

func runCompletion(args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pinvault completion <bash|zsh|fish>")
		os.Exit(1)
	}
	return cmd.Completion(os.Stdout, args[0])
}

func printUsage() {
	fmt.Println("pinvault - PIN-protected local vault for planner data")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pinvault <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init        Set the PIN of a new vault")
	fmt.Println("  unlock      Unlock the vault and open a session shell")
	fmt.Println("  show        Print records")
	fmt.Println("  import      Replace a record from a JSON file")
	fmt.Println("  export      Write a record to a JSON file")
	fmt.Println("  diff        Compare a record with a JSON file")
	fmt.Println("  status      Show vault state (no PIN required)")
	fmt.Println("  reset       Delete the PIN and every record")
	fmt.Println("  compact     Compact vault to reclaim disk space")
	fmt.Println("  completion  Generate shell completions")
	fmt.Println("  help        Show help for a command")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  pinvault init                        # Create new vault")
	fmt.Println("  pinvault unlock                      # Open a session")
	fmt.Println("  pinvault import tasks tasks.json     # Replace the tasks record")
	fmt.Println("  pinvault status                      # Check vault status")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  PINVAULT_PATH     vault file (default .pinvault)")
	fmt.Println("  PINVAULT_RECORDS  managed record names (default tasks,timetable)")
	fmt.Println("  PINVAULT_PIN      PIN for non-interactive use")
	fmt.Println()
	fmt.Println("Use 'pinvault help <command>' for more information about a command.")
}

func printCommandHelp(command string) {
	switch command {
	case "init":
		fmt.Println("pinvault init")
		fmt.Println()
		fmt.Println("Creates the vault file and sets its PIN.")
		fmt.Println("Prompts for the PIN twice; it must be at least 4 characters.")
		fmt.Println("Every record starts out empty. The PIN cannot be recovered:")
		fmt.Println("if you forget it, 'pinvault reset' is the only way back.")
	case "unlock":
		fmt.Println("pinvault unlock")
		fmt.Println()
		fmt.Println("Prompts for the PIN and opens an interactive session shell.")
		fmt.Println("After 5 wrong PINs unlocking is suspended for 30 seconds.")
		fmt.Println("The session locks itself after 5 minutes without input.")
		fmt.Println()
		fmt.Println("Shell commands: ls, show, set, import, export, diff, lock, quit")
	case "show":
		fmt.Println("pinvault show [name...]")
		fmt.Println()
		fmt.Println("Unlocks the vault and prints the named records, or all of them.")
	case "import":
		fmt.Println("pinvault import <name> <file>")
		fmt.Println()
		fmt.Println("Replaces a record with the JSON document in file.")
		fmt.Println("The file must be inside the current directory.")
	case "export":
		fmt.Println("pinvault export <name> <file>")
		fmt.Println()
		fmt.Println("Writes a record as indented JSON to file (mode 0600).")
		fmt.Println("The file must be inside the current directory.")
	case "diff":
		fmt.Println("pinvault diff <name> <file>")
		fmt.Println()
		fmt.Println("Shows a line diff between a record and a local JSON file.")
		fmt.Println("Formatting differences are ignored.")
	case "status":
		fmt.Println("pinvault status")
		fmt.Println()
		fmt.Println("Shows the lock state, failed attempts, lockout time and records.")
		fmt.Println()
		fmt.Println("Does not require a PIN.")
	case "reset":
		fmt.Println("pinvault reset [-f|--force]")
		fmt.Println()
		fmt.Println("Deletes the PIN, the salt and every encrypted record.")
		fmt.Println("This cannot be undone. Asks for confirmation unless --force is given.")
	case "compact":
		fmt.Println("pinvault compact")
		fmt.Println()
		fmt.Println("Compacts the vault file to reclaim unused disk space.")
		fmt.Println()
		fmt.Println("Does not require a PIN.")
	case "completion":
		fmt.Println("pinvault completion <bash|zsh|fish>")
		fmt.Println()
		fmt.Println("Outputs shell completion script for the specified shell.")
		fmt.Println()
		fmt.Println("Setup:")
		fmt.Println("  # Bash - add to ~/.bashrc")
		fmt.Println("  eval \"$(pinvault completion bash)\"")
		fmt.Println()
		fmt.Println("  # Zsh - add to ~/.zshrc")
		fmt.Println("  eval \"$(pinvault completion zsh)\"")
		fmt.Println()
		fmt.Println("  # Fish - add to ~/.config/fish/config.fish")
		fmt.Println("  pinvault completion fish | source")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
	}
}
