package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff produces a unified diff between the vault copy of a payload and a
// local JSON document. Both sides are normalized first, so formatting
// alone never shows up as a change. Returns "" when they are equal.
func Diff(name string, vaultValue, localValue []byte) (string, error) {
	vaultStr, err := normalize(vaultValue)
	if err != nil {
		return "", fmt.Errorf("vault copy of %s: %w", name, err)
	}
	localStr, err := normalize(localValue)
	if err != nil {
		return "", fmt.Errorf("local copy of %s: %w", name, err)
	}
	if vaultStr == localStr {
		return "", nil
	}

	dmp := diffmatchpatch.New()

	// Line-mode diff for better output
	a, b, lineArray := dmp.DiffLinesToChars(vaultStr, localStr)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var result strings.Builder
	result.WriteString(fmt.Sprintf("--- vault/%s\n", name))
	result.WriteString(fmt.Sprintf("+++ local/%s\n", name))
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			result.WriteString(prefix)
			result.WriteString(line)
		}
	}

	return result.String(), nil
}

func normalize(value []byte) (string, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(value), "", "  "); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	out.WriteByte('\n')
	return out.String(), nil
}
