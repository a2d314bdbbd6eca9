package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yourusername/framer/pkg/framer/http11"
)

func newParseCommand(root *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Parse a stream of raw HTTP/1.x requests",
		Long: `Parse reads pipelined HTTP/1.x requests from a file (or stdin when the
argument is "-" or missing) and prints the framing and decoded body of each.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := root.fs.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			return root.parse(cmd, src)
		},
	}
}

// parse reads requests until the stream ends. A rejected request stops the
// stream because its framing can no longer be trusted.
func (c *rootCommand) parse(cmd *cobra.Command, src io.Reader) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	in := c.inspector()

	s := http11.NewScannerSize(src, http11.DefaultScannerBufferSize, c.pool)
	defer s.Release()
	parser := http11.NewParser(c.cfg.Limits())

	for n := 0; ; n++ {
		req, err := parser.ReadRequest(ctx, s)
		if err == io.EOF {
			c.logger.WithField("requests", n).Debug("End of input")
			return nil
		}
		if err != nil {
			printRejection(out, n, err)
			return err
		}

		rep, err := in.inspect(ctx, req)
		if err == nil {
			// Leave the scanner at the start of the next request.
			_, err = io.Copy(io.Discard, req.Body)
			rep.Trailer = req.Trailer()
		}
		if err != nil {
			http11.PutRequest(req)
			printRejection(out, n, err)
			return fmt.Errorf("request %d: %w", n, err)
		}

		fmt.Fprintf(out, "--- request %d\n", n)
		_, err = rep.WriteTo(out)
		http11.PutRequest(req)
		if err != nil {
			return err
		}
	}
}

func printRejection(w io.Writer, n int, err error) {
	var rej *http11.RejectionError
	if errors.As(err, &rej) {
		fmt.Fprintf(w, "request %d rejected: %s (%d %s)\n", n, rej.Reason, rej.StatusCode(), http11.StatusText(rej.StatusCode()))
	}
}
