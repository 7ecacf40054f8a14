package cmd

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Compact compacts the vault file to reclaim unused space
func Compact(ctx context.Context) error {
	app, err := Open(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	// Get file size before
	info, err := os.Stat(app.DB.Path())
	if err != nil {
		return err
	}
	sizeBefore := info.Size()

	if err := app.Compact(); err != nil {
		return err
	}

	// Get file size after
	info, err = os.Stat(app.DB.Path())
	if err != nil {
		return err
	}
	sizeAfter := info.Size()

	app.Log.Info("vault compacted", zap.Int64("before", sizeBefore), zap.Int64("after", sizeAfter))
	fmt.Printf("Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(sizeAfter))
	return nil
}
