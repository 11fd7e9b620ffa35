package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := cli.NewApp()
	app.Name = "eventsched"
	app.Usage = "recurring event scheduler"
	app.Version = version
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "start the scheduler and the keypad console",
			Action: runCmd,
		},
		{
			Name:   "list",
			Usage:  "print stored events with their next fire time",
			Flags:  listFlags,
			Action: listCmd,
		},
		{
			Name:   "export",
			Usage:  "write a group as an iCalendar file",
			Flags:  exportFlags,
			Action: exportCmd,
		},
		{
			Name:   "version",
			Usage:  "print version information",
			Action: versionCmd,
		},
	}
	app.Action = runCmd

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", app.Name, err)
		os.Exit(1)
	}
}
