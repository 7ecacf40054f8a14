package cmd

import (
	"fmt"
	"io"

	"github.com/illarion/pinvault/internal/payload"
	"github.com/illarion/pinvault/internal/security"
	"github.com/illarion/pinvault/internal/session"
)

func listPayloads(w io.Writer, sess *session.Session) error {
	for _, name := range sess.Names() {
		value, err := sess.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s (%s)\n", name, formatSize(int64(len(value))))
	}
	return nil
}

func showPayload(w io.Writer, sess *session.Session, name string) error {
	value, err := sess.Get(name)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, payload.Indent(value))
	return nil
}

func importPayload(sess *session.Session, files *security.FileRoot, name, path string) error {
	data, err := files.ReadFile(path)
	if err != nil {
		return err
	}
	return sess.Set(name, data)
}

func exportPayload(sess *session.Session, files *security.FileRoot, name, path string) error {
	value, err := sess.Get(name)
	if err != nil {
		return err
	}
	return files.WriteFile(path, []byte(payload.Indent(value)+"\n"))
}

func diffPayload(w io.Writer, sess *session.Session, files *security.FileRoot, name, path string) error {
	value, err := sess.Get(name)
	if err != nil {
		return err
	}
	local, err := files.ReadFile(path)
	if err != nil {
		return err
	}

	diff, err := payload.Diff(name, value, local)
	if err != nil {
		return err
	}
	if diff == "" {
		fmt.Fprintf(w, "%s: no differences\n", name)
		return nil
	}
	fmt.Fprint(w, diff)
	return nil
}
