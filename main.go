package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/kuar-io/kuar/client"
	"github.com/kuar-io/kuar/server"
	"github.com/kuar-io/kuar/server/keyexchange"
	"github.com/kuar-io/kuar/server/protocol"
)

func main() {
	app := cli.NewApp()
	app.Name = "kuar"
	app.Usage = "Vaccination profile service over an AES-256-ECB session protocol"
	app.Version = server.Version
	app.Flags = getFlags()
	app.Action = serve
	app.Commands = []cli.Command{
		{
			Name:      "dial",
			Usage:     "open an interactive session with a kuar server",
			ArgsUsage: "ADDR",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config, c",
					Usage: "load configuration from `FILE`",
				},
				cli.StringFlag{
					Name:  "seed",
					Usage: "handshake seed as 128 hex digits (default: random)",
				},
			},
			Action: dial,
		},
		{
			Name:  "keygen",
			Usage: "generate an X25519 key pair, or derive a session key from --pair and --peer",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "pair",
					Usage: "own key pair as hex",
				},
				cli.StringFlag{
					Name:  "peer",
					Usage: "peer public key as hex",
				},
			},
			Action: keygen,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(server.InternalError)
	}
}

func getFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load configuration from `FILE`",
		},
		cli.StringFlag{
			Name:  "data-dir, d",
			Usage: "keep the users tree in `DIR`",
			Value: server.DefaultDataDir,
		},
		cli.StringFlag{
			Name:  "level, l",
			Usage: "logging level [debug|info|warn|error]",
			Value: "info",
		},
		cli.BoolFlag{
			Name:  "silent",
			Usage: "discard all logs",
		},
		cli.BoolFlag{
			Name:  "strict-padding",
			Usage: "verify every padding byte of received packets",
		},
		cli.DurationFlag{
			Name:  "send-delay",
			Usage: "pause after every write",
			Value: protocol.DefaultSendDelay,
		},
	}
}

// serve runs one session over stdin and stdout and exits with its status.
func serve(c *cli.Context) error {
	config, err := server.NewConfig(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("data-dir") {
		config.DataDir = c.String("data-dir")
	}
	if c.IsSet("level") {
		level, err := server.GetLogLevel(c.String("level"))
		if err != nil {
			return err
		}
		config.LogLevel = level
	}
	if c.IsSet("silent") {
		config.LogSilent = c.Bool("silent")
	}
	if c.IsSet("strict-padding") {
		config.Protocol.StrictPadding = c.Bool("strict-padding")
	}
	if c.IsSet("send-delay") {
		config.Protocol.SendDelay = c.Duration("send-delay")
	}

	os.Exit(server.New(config).Serve())
	return nil
}

// dial connects to ADDR and relays stdin lines to the server while printing
// every packet it sends back.
func dial(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return errors.New("missing server address")
	}
	seed, err := parseSeed(c.String("seed"))
	if err != nil {
		return err
	}
	config, err := server.NewConfig(c.String("config"))
	if err != nil {
		return err
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", addr)
	}
	defer conn.Close()

	session, err := client.Dial(conn, seed, client.WithSendDelay(config.Protocol.SendDelay))
	if err != nil {
		return err
	}

	go func() {
		lines := bufio.NewScanner(os.Stdin)
		for lines.Scan() {
			if err := session.SendString(lines.Text()); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := session.ReceiveString(config.Protocol.MaxPacket)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		fmt.Print(msg)
		if !strings.HasSuffix(msg, "\n") && !strings.HasSuffix(msg, " ") {
			fmt.Println()
		}
	}
}

// keygen prints a new key pair, or the session key shared with a peer.
func keygen(c *cli.Context) error {
	exchanger := keyexchange.NewLocal()

	if !c.IsSet("pair") && !c.IsSet("peer") {
		pair, err := exchanger.GenerateKeyPair()
		if err != nil {
			return err
		}
		pub, err := keyexchange.PublicKey(pair)
		if err != nil {
			return err
		}
		fmt.Printf("pair:   %s\npublic: %s\n", hex.EncodeToString(pair), hex.EncodeToString(pub))
		return nil
	}

	pair, err := parseHex("pair", c.String("pair"), keyexchange.PairSize)
	if err != nil {
		return err
	}
	peer, err := parseHex("peer", c.String("peer"), keyexchange.PublicKeySize)
	if err != nil {
		return err
	}
	key, err := exchanger.SharedSecret(pair, peer)
	if err != nil {
		return err
	}
	fmt.Printf("session: %s\n", hex.EncodeToString(key))
	return nil
}

// parseSeed decodes a hex handshake seed. An empty string means a random
// seed and yields nil.
func parseSeed(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return parseHex("seed", s, protocol.SeedSize)
}

func parseHex(name, s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s", name)
	}
	if len(b) != size {
		return nil, errors.Errorf("invalid %s: got %d bytes, want %d", name, len(b), size)
	}
	return b, nil
}
