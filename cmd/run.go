package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hexalayer/bundle/internal/bundlectx"
	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/dependency"
	frameworkconfig "github.com/hexalayer/bundle/internal/framework"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/metrics"
	"github.com/hexalayer/bundle/internal/provider"
	"github.com/hexalayer/bundle/pkg/logging"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	runMetricsAddr string
	runWatchFlag   bool
)

var runCmd = &cobra.Command{
	Use:   "run <descriptor-dir>",
	Short: "Install every descriptor in a directory as a bundle and run until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090); empty disables it")
	runCmd.Flags().BoolVar(&runWatchFlag, "watch", false, "reinstall every bundle from scratch whenever a descriptor file in the directory changes")
	rootCmd.AddCommand(runCmd)
}

// handlerRegistry builds the full handler.Registry bundlectl wires every
// instance through: the seven dependency-handler kinds plus the
// service-provider handler (spec §2 components E/G/H).
func handlerRegistry() *handler.Registry {
	reg := handler.NewRegistry()
	dependency.RegisterAll(reg)
	reg.Register(provider.HandlerID, &provider.Factory{})
	return reg
}

// descriptorActivator installs one StoredInstance per InstanceDecl (or a
// single unnamed instance when none are declared) when its bundle starts,
// and kills them all when it stops.
type descriptorActivator struct {
	fd        component.FactoryDescriptor
	handlers  *handler.Registry
	instances []*component.StoredInstance
}

func (a *descriptorActivator) Start(ctx *bundlectx.BundleContext) error {
	fc := component.NewFactoryContext(a.fd, component.BuildInstanceType(a.fd))

	instanceDecls := a.fd.Instances
	if len(instanceDecls) == 0 {
		instanceDecls = []component.InstanceDecl{{Name: a.fd.Name}}
	}

	for _, decl := range instanceDecls {
		si := component.NewStoredInstance(fc, ctx, decl.Properties)
		if err := si.Start(a.handlers); err != nil {
			return fmt.Errorf("cmd: starting instance %q of factory %q: %w", decl.Name, a.fd.Name, err)
		}
		a.instances = append(a.instances, si)
	}
	return nil
}

func (a *descriptorActivator) Stop(ctx *bundlectx.BundleContext) error {
	for _, si := range a.instances {
		si.Kill()
	}
	a.instances = nil
	return nil
}

// buildAndStartFramework loads every descriptor in dir fresh, installs each
// as a bundle on a new Framework, and starts them all.
func buildAndStartFramework(ctx context.Context, dir string, cfg frameworkconfig.Config, reg *handler.Registry) (*bundlectx.Framework, error) {
	descriptors, err := loadDescriptors(dir)
	if err != nil {
		return nil, err
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("cmd: no factory descriptors found in %q", dir)
	}

	fw := bundlectx.New(cfg.AsFrameworkProperties())
	for _, d := range descriptors {
		fw.Install(d.fd.Name, &descriptorActivator{fd: d.fd, handlers: reg})
	}
	if err := fw.StartAll(ctx); err != nil {
		return nil, fmt.Errorf("cmd: starting bundles: %w", err)
	}
	return fw, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	dir := args[0]

	cfg := frameworkconfig.Default()
	var err error
	if configPath != "" {
		cfg, err = frameworkconfig.Load(configPath)
		if err != nil {
			return err
		}
	}

	if runMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: runMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("cmd", err, "metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	reg := handlerRegistry()

	var fwMu sync.Mutex
	fw, err := buildAndStartFramework(cmd.Context(), dir, cfg, reg)
	if err != nil {
		return err
	}
	printStatus(fw)

	done := make(chan struct{})
	defer close(done)

	if runWatchFlag {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("cmd: creating watcher: %w", err)
		}
		defer w.Close()
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("cmd: watching %q: %w", dir, err)
		}

		go func() {
			var debounce *time.Timer
			reload := make(chan struct{}, 1)
			for {
				select {
				case ev, ok := <-w.Events:
					if !ok {
						return
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
				case werr, ok := <-w.Errors:
					if !ok {
						return
					}
					logging.Error("cmd", werr, "watcher error")
				case <-reload:
					logging.Info("cmd", "descriptor directory changed, reinstalling all bundles")
					fwMu.Lock()
					fw.StopAll()
					newFW, err := buildAndStartFramework(cmd.Context(), dir, cfg, reg)
					if err != nil {
						logging.Error("cmd", err, "reinstalling bundles after descriptor change")
						fwMu.Unlock()
						continue
					}
					fw = newFW
					fwMu.Unlock()
					printStatus(fw)
				case <-done:
					return
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logging.Info("cmd", "shutting down")

	fwMu.Lock()
	fw.StopAll()
	fwMu.Unlock()
	return nil
}

func printStatus(fw *bundlectx.Framework) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("BUNDLE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("UUID"),
	})
	for _, b := range fw.Bundles() {
		t.AppendRow(table.Row{b.SymbolicName(), b.State().String(), b.UUID()})
	}
	t.Render()

	refs, _ := fw.Registry().FindServiceReferences("", nil, false)
	if len(refs) == 0 {
		return
	}
	st := table.NewWriter()
	st.SetOutputMirror(os.Stdout)
	st.SetStyle(table.StyleRounded)
	st.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("SERVICE ID"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("OBJECTCLASS"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("RANKING"),
	})
	for _, r := range refs {
		st.AppendRow(table.Row{r.ServiceID(), fmt.Sprint(r.ObjectClass()), r.Ranking()})
	}
	st.Render()
}
