package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hexalayer/bundle/pkg/logging"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <descriptor-dir>",
	Short: "Watch a descriptor directory and reprint the factory table on every change",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// runWatch mirrors the teacher's fsnotify-driven config reload (see
// DESIGN.md): it re-parses the whole directory on any create/write/remove/
// rename touching a *.yaml or *.yml file, debounced so a burst of editor
// saves produces one reprint instead of several.
func runWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cmd: creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("cmd: watching %q: %w", dir, err)
	}

	if err := runList(cmd, args); err != nil {
		logging.Error("cmd", err, "initial descriptor load failed")
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isYAML(ev.Name) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(150*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Error("cmd", err, "watcher error")
		case <-reload:
			logging.Info("cmd", "descriptor directory changed, reloading")
			if err := runList(cmd, args); err != nil {
				logging.Error("cmd", err, "reloading descriptors")
			}
		case <-cmd.Context().Done():
			return nil
		}
	}
}

func isYAML(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
