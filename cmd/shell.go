package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/illarion/pinvault/internal/security"
	"github.com/illarion/pinvault/internal/session"
)

var errQuit = errors.New("quit")

// Shell is the interactive prompt of an unlocked session. It ends when the
// input ends, on quit, or as soon as the session locks for any reason.
type Shell struct {
	sess  *session.Session
	files *security.FileRoot
	in    io.Reader
	out   io.Writer
}

// NewShell creates a shell reading commands from in
func NewShell(sess *session.Session, files *security.FileRoot, in io.Reader, out io.Writer) *Shell {
	return &Shell{sess: sess, files: files, in: in, out: out}
}

// Run reads and executes commands until the shell ends
func (sh *Shell) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(sh.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	fmt.Fprintln(sh.out, "Unlocked. Type 'help' for commands.")
	sh.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sh.sess.Events():
			if !ok {
				return session.ErrClosed
			}
			if e.Kind == session.EventLocked {
				fmt.Fprintf(sh.out, "\n%s\n", e.Reason)
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			sh.sess.Touch()
			if err := sh.exec(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				writeError(sh.out, err)
			}
			if sh.sess.State() != session.Unlocked {
				fmt.Fprintln(sh.out, session.ReasonExplicit)
				return nil
			}
			sh.prompt()
		}
	}
}

func (sh *Shell) prompt() {
	fmt.Fprint(sh.out, "pinvault> ")
}

func (sh *Shell) exec(line string) error {
	command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	name, arg, _ := strings.Cut(strings.TrimSpace(rest), " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "":
		return nil
	case "ls":
		return listPayloads(sh.out, sh.sess)
	case "show":
		if name == "" {
			for _, n := range sh.sess.Names() {
				fmt.Fprintf(sh.out, "# %s\n", n)
				if err := showPayload(sh.out, sh.sess, n); err != nil {
					return err
				}
			}
			return nil
		}
		return showPayload(sh.out, sh.sess, name)
	case "set":
		if name == "" || arg == "" {
			return usageError("set <name> <json>")
		}
		if err := sh.sess.Set(name, []byte(arg)); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "✓ %s updated\n", name)
		return nil
	case "import":
		if name == "" || arg == "" {
			return usageError("import <name> <file>")
		}
		if err := importPayload(sh.sess, sh.files, name, arg); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "✓ Imported %s from %s\n", name, arg)
		return nil
	case "export":
		if name == "" || arg == "" {
			return usageError("export <name> <file>")
		}
		if err := exportPayload(sh.sess, sh.files, name, arg); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "✓ Exported %s to %s\n", name, arg)
		return nil
	case "diff":
		if name == "" || arg == "" {
			return usageError("diff <name> <file>")
		}
		return diffPayload(sh.out, sh.sess, sh.files, name, arg)
	case "lock":
		return sh.sess.Lock()
	case "quit", "exit":
		return errQuit
	case "help":
		sh.help()
		return nil
	default:
		return fmt.Errorf("unknown command %q, type 'help' for commands", command)
	}
}

func (sh *Shell) help() {
	fmt.Fprintln(sh.out, "Commands:")
	fmt.Fprintln(sh.out, "  ls                    List records")
	fmt.Fprintln(sh.out, "  show [name]           Print a record, or all of them")
	fmt.Fprintln(sh.out, "  set <name> <json>     Replace a record")
	fmt.Fprintln(sh.out, "  import <name> <file>  Replace a record from a JSON file")
	fmt.Fprintln(sh.out, "  export <name> <file>  Write a record to a JSON file")
	fmt.Fprintln(sh.out, "  diff <name> <file>    Compare a record with a JSON file")
	fmt.Fprintln(sh.out, "  lock                  Lock the vault and leave")
	fmt.Fprintln(sh.out, "  quit                  Leave (locks the vault)")
}

func usageError(usage string) error {
	return fmt.Errorf("usage: %s", usage)
}
