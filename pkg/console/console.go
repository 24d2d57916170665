// Package console implements the runtime administration commands read from
// stdin while the server runs.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"dominicbreuker/gamenet/pkg/listen"
	"dominicbreuker/gamenet/pkg/log"

	"github.com/muesli/cancelreader"
	"github.com/urfave/cli/v3"
)

// Command names.
const (
	CmdAddUDP = "endpoint_add_udp"
	CmdAddTCP = "endpoint_add_tcp"
	CmdRemove = "endpoint_remove"
	CmdList   = "endpoint_list"
)

// EndpointAdmin is what the console administers. *listen.Manager
// implements it.
type EndpointAdmin interface {
	AddEndpoint(ctx context.Context, spec string, kind listen.Kind) error
	RemoveEndpoint(spec string, kind listen.Kind) error
	Endpoints() []listen.EndpointInfo
}

// Console executes administrative command lines.
type Console struct {
	admin  EndpointAdmin
	logger *log.Logger
}

// New ...
func New(admin EndpointAdmin, logger *log.Logger) *Console {
	return &Console{admin: admin, logger: logger}
}

// Execute runs one command line. Output and errors are written to out; the
// error is returned as well. An empty line is a no-op.
func (c *Console) Execute(ctx context.Context, line string, out io.Writer) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	// urfave/cli commands keep parse state, so every line gets a fresh tree
	root := c.command(out)
	if err := root.Run(ctx, append([]string{"console"}, args...)); err != nil {
		fmt.Fprintf(out, "[!] Error: %s\n", err)
		return err
	}
	return nil
}

// Serve reads command lines from in until EOF or until ctx is cancelled.
// Failing commands do not stop the loop.
func (c *Console) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	// not every input can be cancelled (e.g. a regular file on Linux); those
	// are read until EOF
	r := in
	if cr, err := cancelreader.NewReader(in); err == nil {
		defer cr.Close()
		stop := context.AfterFunc(ctx, func() { cr.Cancel() })
		defer stop()
		r = cr
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.Execute(ctx, scanner.Text(), out); err != nil {
			c.logger.VerboseMsg("console command %q: %s", scanner.Text(), err)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, cancelreader.ErrCanceled) {
		return fmt.Errorf("reading console input: %w", err)
	}
	return nil
}

func (c *Console) command(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:            "console",
		HideHelp:        true,
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       out,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return fmt.Errorf("unknown command %q", cmd.Args().First())
		},
		Commands: []*cli.Command{
			c.addCommand(CmdAddUDP, listen.UDP, out),
			c.addCommand(CmdAddTCP, listen.TCP, out),
			{
				Name:      CmdRemove,
				Usage:     "Close a TCP and/or UDP endpoint",
				ArgsUsage: "<host:port>",
				HideHelp:  true,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					spec, err := singleArg(cmd)
					if err != nil {
						return err
					}
					if err := c.admin.RemoveEndpoint(spec, listen.Both); err != nil {
						return fmt.Errorf("%s %s: %w", CmdRemove, spec, err)
					}
					fmt.Fprintf(out, "[+] Removed endpoint %s\n", spec)
					return nil
				},
			},
			{
				Name:     CmdList,
				Usage:    "List bound endpoints",
				HideHelp: true,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					printEndpoints(out, c.admin.Endpoints())
					return nil
				},
			},
		},
	}
}

func (c *Console) addCommand(name string, kind listen.Kind, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     fmt.Sprintf("Bind a new %s endpoint", kind),
		ArgsUsage: "<host:port>",
		HideHelp:  true,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			spec, err := singleArg(cmd)
			if err != nil {
				return err
			}
			if err := c.admin.AddEndpoint(ctx, spec, kind); err != nil {
				return fmt.Errorf("%s %s: %w", name, spec, err)
			}
			fmt.Fprintf(out, "[+] Added %s endpoint %s\n", kind, spec)
			return nil
		},
	}
}

func singleArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("usage: %s %s", cmd.Name, cmd.ArgsUsage)
	}
	return cmd.Args().First(), nil
}

func printEndpoints(out io.Writer, eps []listen.EndpointInfo) {
	if len(eps) == 0 {
		fmt.Fprintln(out, "no endpoints")
		return
	}

	for _, ep := range eps {
		fmt.Fprintf(out, "%-7s %s", ep.Kind, ep.Address)
		if ep.TCP != "" {
			fmt.Fprintf(out, " tcp=%s protocols=%s", ep.TCP, strings.Join(ep.Protocols, ","))
		}
		if ep.UDP != "" {
			fmt.Fprintf(out, " udp=%s", ep.UDP)
		}
		fmt.Fprintln(out)
	}
}
