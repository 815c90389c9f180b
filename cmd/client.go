package cmd

import (
	"encoding/json"
	"fmt"
	"gridjobs/pkg/client"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:5100"

func addServerFlag(command *cobra.Command, server *string) {
	def := os.Getenv("GRIDJOBS_URL")
	if def == "" {
		def = defaultServer
	}
	command.Flags().StringVarP(server, "server", "s", def, "Server base URL (default GRIDJOBS_URL)")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitPairs(pairs []string, flag string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%s expects name=value, got %q", flag, p)
		}
		out[name] = value
	}
	return out, nil
}

func submitCmd() *cobra.Command {
	var (
		server string
		files  []string
		fields []string
		output string
	)

	var command = &cobra.Command{
		Use:   "submit <op>",
		Short: "Start a task; with --output wait for it and download the artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setup()
			op := args[0]
			values, err := splitPairs(fields, "--field")
			if err != nil {
				return err
			}
			paths, err := splitPairs(files, "--file")
			if err != nil {
				return err
			}

			form := client.Form{Fields: values, Files: map[string]io.Reader{}}
			var opened []*os.File
			defer func() {
				for _, f := range opened {
					_ = f.Close()
				}
			}()
			for name, path := range paths {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				opened = append(opened, f)
				form.Files[name] = f
			}

			c := client.New(server)
			id, err := c.Submit(cmd.Context(), op, form)
			if err != nil {
				return err
			}
			if output == "" {
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}

			log.Info().Str("task_id", id).Msgf("waiting for %s", op)
			if _, err := c.Wait(cmd.Context(), op, id); err != nil {
				return err
			}
			return download(cmd, c, op, id, output)
		},
	}

	addServerFlag(command, &server)
	command.Flags().StringArrayVarP(&files, "file", "f", nil, "File field as name=path (repeatable)")
	command.Flags().StringArrayVarP(&fields, "field", "F", nil, "Value field as name=value (repeatable)")
	command.Flags().StringVarP(&output, "output", "o", "", "Wait for the task and write its artifact here")
	return command
}

func download(cmd *cobra.Command, c *client.Client, op, id, output string) (err error) {
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()
	n, err := c.Download(cmd.Context(), op, id, f)
	if err != nil {
		return err
	}
	log.Info().Str("task_id", id).Msgf("wrote %d bytes to %s", n, output)
	return nil
}

func statusCmd() *cobra.Command {
	var server, output string
	var wait bool

	var command = &cobra.Command{
		Use:   "status <op> <id>",
		Short: "Show a task's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			setup()
			c := client.New(server)
			op, id := args[0], args[1]

			var st client.Status
			var err error
			if wait {
				st, err = c.Wait(cmd.Context(), op, id)
			} else {
				st, err = c.Status(cmd.Context(), op, id)
			}
			if err != nil && st.Status == "" {
				return err
			}
			if perr := printJSON(cmd.OutOrStdout(), st); perr != nil {
				return perr
			}
			if err == nil && st.Status == client.StatusReady && output != "" {
				return download(cmd, c, op, id, output)
			}
			return err
		},
	}

	addServerFlag(command, &server)
	command.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the task is ready or failed")
	command.Flags().StringVarP(&output, "output", "o", "", "Download the artifact here when the task is ready")
	return command
}

func stopCmd() *cobra.Command {
	var server string

	var command = &cobra.Command{
		Use:   "stop <op> <id>",
		Short: "Stop a task and delete it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			setup()
			st, err := client.New(server).Stop(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}

	addServerFlag(command, &server)
	return command
}

func opsCmd() *cobra.Command {
	var server string

	var command = &cobra.Command{
		Use:   "ops",
		Short: "List the operations a server exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setup()
			listed, err := client.New(server).Ops(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OPERATION\tARTIFACT\tFIELDS")
			for _, op := range listed {
				names := make([]string, 0, len(op.Fields))
				for _, f := range op.Fields {
					n := f.Name + ":" + f.Kind
					if f.Optional {
						n += "?"
					}
					names = append(names, n)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", op.Name, op.Artifact, strings.Join(names, " "))
			}
			return tw.Flush()
		},
	}

	addServerFlag(command, &server)
	return command
}
