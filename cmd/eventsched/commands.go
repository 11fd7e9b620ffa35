package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"eventsched/internal/app"
	"eventsched/internal/calendar"
	"eventsched/internal/config"
	"eventsched/internal/schedule"
)

const stopTimeout = 10 * time.Second

func openApp(opts ...app.Option) (*app.App, error) {
	if cfgPath == "" {
		return app.NewFromConfig(config.Default(), opts...)
	}
	return app.New(cfgPath, opts...)
}

func runCmd(ctx *cli.Context) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Start(sigCtx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		_ = a.Stop(stopCtx, app.StopFatalError)
		stopCancel()
		return err
	}

	reason := app.StopSignal
	select {
	case <-sigCtx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func loadApp() (*app.App, error) {
	a, err := openApp(app.WithIO(nil, io.Discard))
	if err != nil {
		return nil, err
	}
	if err := a.Restore(context.Background()); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func listCmd(ctx *cli.Context) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tEVENT\tRECURRENCE\tSTATE\tNEXT\tFLAGS")
	for _, name := range a.GroupNames() {
		if groupName != "" && name != groupName {
			continue
		}
		g, _ := a.Group(name)
		for _, ev := range g.Events() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				name, ev.Name, ev.Recurrence, ev.State(), nextFire(ev), flags(ev))
		}
	}
	return tw.Flush()
}

func nextFire(ev schedule.Event) string {
	if ev.NextFire.IsZero() {
		return "-"
	}
	return ev.NextFire.Format("Mon 2006-01-02 15:04")
}

func flags(ev schedule.Event) string {
	s := ""
	if ev.Persistent {
		s += "P"
	}
	if ev.Acknowledgeable {
		s += "A"
	}
	if s == "" {
		return "-"
	}
	return s
}

func exportCmd(ctx *cli.Context) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	name := groupName
	if name == "" {
		name = a.GroupNames()[0]
	}
	g, ok := a.Group(name)
	if !ok {
		return fmt.Errorf("unknown group %q", name)
	}

	var w io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return calendar.Export(w, name, g.Events(), calendar.Options{
		IncludeDisabled: includeDisabled,
		Stamp:           time.Now(),
	})
}

func versionCmd(ctx *cli.Context) error {
	fmt.Printf("%s %s (%s_%s)\nBuild: %s=%s\n",
		ctx.App.Name, ctx.App.Version, runtime.GOOS, runtime.GOARCH, date, commit)
	return nil
}
