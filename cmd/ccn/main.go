// Package main defines the entry point of the aleph core channel node: a
// full participant of the message network that indexes chains, ingests and
// validates messages and serves content-addressed storage.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/aleph-im/go-aleph/ccn/node"
	"github.com/aleph-im/go-aleph/cmd/ccn/flags"
	"github.com/aleph-im/go-aleph/runtime/version"
)

var appFlags = []cli.Flag{
	flags.DataDirFlag,
	flags.ClearDB,
	flags.VerbosityFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.DisableMonitoringFlag,
	flags.P2PHost,
	flags.P2PTCPPort,
	flags.P2PKeyFile,
	flags.BootstrapPeers,
	flags.MessageTopicFlag,
	flags.IPFSAPIFlag,
	flags.ChainConfigFileFlag,
	flags.TrustedBalanceSenders,
}

var log = logrus.WithField("prefix", "main")

func main() {
	app := cli.App{
		Name:    "ccn",
		Usage:   "An aleph.im core channel node, indexing chains and relaying the message network",
		Version: version.Version(),
		Action:  startNode,
		Flags:   appFlags,
		Before: func(ctx *cli.Context) error {
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			logrus.SetFormatter(formatter)

			level, err := logrus.ParseLevel(ctx.String(flags.VerbosityFlag.Name))
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func startNode(ctx *cli.Context) error {
	ccn, err := node.New(ctx)
	if err != nil {
		return err
	}
	ccn.Start()
	return nil
}
