package main

import "github.com/urfave/cli"

var (
	cfgPath         string
	groupName       string
	outputPath      string
	includeDisabled bool
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "config, c",
		Usage:       "path to the JSON or YAML config (built-in defaults when empty)",
		EnvVar:      "EVENTSCHED_CONFIG",
		Destination: &cfgPath,
	},
}

var listFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "group, g",
		Usage:       "only list this group",
		Destination: &groupName,
	},
}

var exportFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "group, g",
		Usage:       "group to export (default group when empty)",
		Destination: &groupName,
	},
	cli.StringFlag{
		Name:        "output, o",
		Usage:       "write to this file instead of stdout",
		Destination: &outputPath,
	},
	cli.BoolFlag{
		Name:        "include-disabled",
		Usage:       "export disabled events as cancelled",
		Destination: &includeDisabled,
	},
}
