package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/leapcache-go/internal/infra/buildinfo"
)

func main() {
	app := &cli.App{
		Name:    "leapcache-cli",
		Usage:   "command-line client for leapcache-server",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "server address",
				EnvVars: []string{"LEAPCACHE_SERVER"},
				Value:   "localhost:6379",
			},
			&cli.StringFlag{
				Name:    "auth",
				Aliases: []string{"a"},
				Usage:   "AUTH secret sent before the command",
				EnvVars: []string{"LEAPCACHE_AUTH"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "dial and I/O timeout",
				Value: 5 * time.Second,
			},
		},
		ArgsUsage: "COMMAND [ARG ...]",
		Action:    runCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(c *cli.Context) error {
	args := c.Args().Slice()
	if len(args) == 0 {
		return cli.ShowAppHelp(c)
	}

	timeout := c.Duration("timeout")
	conn, err := net.DialTimeout("tcp", c.String("server"), timeout)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	if secret := c.String("auth"); secret != "" {
		if err := exchange(conn, br, bw, []string{"AUTH", secret}, timeout, io.Discard); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	return exchange(conn, br, bw, args, timeout, os.Stdout)
}

// exchange writes one command frame and prints its reply.
func exchange(conn net.Conn, br *bufio.Reader, bw *bufio.Writer, args []string, timeout time.Duration, out io.Writer) error {
	_ = conn.SetDeadline(time.Now().Add(timeout))

	fmt.Fprintf(bw, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(bw, "$%d\r\n%s\r\n", len(a), a)
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	reply, err := readReply(br)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, reply)
	return nil
}

// readReply reads one RESP value and renders it for display.
func readReply(br *bufio.Reader) (string, error) {
	line, err := readLine(br)
	if err != nil {
		return "", err
	}
	if len(line) == 0 {
		return "", fmt.Errorf("empty reply")
	}

	switch line[0] {
	case '+':
		return line[1:], nil
	case '-':
		return "(error) " + line[1:], nil
	case ':':
		return "(integer) " + line[1:], nil
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", fmt.Errorf("bad bulk length %q", line[1:])
		}
		if n == -1 {
			return "(nil)", nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(br, buf); err != nil {
			return "", err
		}
		return string(buf[:n]), nil
	case '*':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", fmt.Errorf("bad array length %q", line[1:])
		}
		if n == -1 {
			return "(nil)", nil
		}
		if n == 0 {
			return "(empty array)", nil
		}
		var b strings.Builder
		for i := 0; i < n; i++ {
			elem, err := readReply(br)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%d) %s", i+1, elem)
			if i != n-1 {
				b.WriteByte('\n')
			}
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("unknown reply type %q", line[0])
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
