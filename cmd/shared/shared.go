// Package shared provides common CLI flag definitions and utility functions
// used across gamenet's command-line interface.
package shared

import (
	"strings"

	"github.com/urfave/cli/v3"
)

const categoryCommon = "common"

// VerboseFlag is the name of the flag to enable verbose logging.
const VerboseFlag = "verbose"

// ConfigFlag is the name of the flag to specify the YAML configuration file.
const ConfigFlag = "config"

// GetBaseDescription returns the description of the endpoint flag format.
func GetBaseDescription() string {
	return strings.Join([]string{
		"Specify endpoints like this: tcp://0.0.0.0:30120 (supports tcp|udp)",
		"You can omit the host to bind to all interfaces.",
		"TCP endpoints multiplex HTTP, websockets (/ws) and raw yamux sessions on one port.",
		"UDP endpoints carry KCP sessions and out-of-band queries.",
	}, "\n")
}

// GetCommonFlags returns the flags every command accepts.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     ConfigFlag,
			Aliases:  []string{"c"},
			Usage:    "YAML configuration file, flags override its values",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Verbose logging",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
	}
}

const categoryServe = "serve"

// EndpointFlag is the name of the flag to add a bind endpoint.
const EndpointFlag = "endpoint"

// FPSFlag is the name of the flag to set the tick rate.
const FPSFlag = "fps"

// MaxCatchUpFlag is the name of the flag to cap catch-up ticks per iteration.
const MaxCatchUpFlag = "max-catch-up"

// ConsoleFlag is the name of the flag to enable the stdin command console.
const ConsoleFlag = "console"

// GetServeFlags returns the flags specific to the serve command.
func GetServeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:     EndpointFlag,
			Aliases:  []string{"e"},
			Usage:    "Bind endpoint, format: tcp|udp://[host]:port, repeatable",
			Category: categoryServe,
			Value:    []string{},
			Required: false,
		},
		&cli.IntFlag{
			Name:     FPSFlag,
			Usage:    "Ticks per second, 0 keeps the configured value",
			Category: categoryServe,
			Value:    0,
			Required: false,
		},
		&cli.IntFlag{
			Name:     MaxCatchUpFlag,
			Usage:    "Maximum catch-up ticks per iteration (0 = unbounded), -1 keeps the configured value",
			Category: categoryServe,
			Value:    -1,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     ConsoleFlag,
			Usage:    "Read endpoint_* commands from stdin",
			Category: categoryServe,
			Value:    false,
			Required: false,
		},
	}
}
