package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"capstore/api"
	"capstore/core/genesis"
	"capstore/core/journal"
	"capstore/core/types"
)

var Genesis = cli.Command{
	Action:    runGenesis,
	Name:      "genesis",
	Usage:     "installs the genesis state and records its root",
	ArgsUsage: "[genesis file]",
}

var Query = cli.Command{
	Action: runQuery,
	Name:   "query",
	Usage:  "reads a key at a state root and follows named keys",
	Flags: []cli.Flag{
		rootFlag,
		&cli.StringFlag{Name: "key", Required: true, Usage: "account:<hex|bech32>, hash:<hex> or uref:<hex>"},
		&cli.StringFlag{Name: "path", Usage: "named key path, e.g. mint or counter/slot"},
	},
}

var Balance = cli.Command{
	Action:    runBalance,
	Name:      "balance",
	Usage:     "prints the main purse balance of an account",
	ArgsUsage: "<account>",
	Flags:     []cli.Flag{rootFlag},
}

var Dump = cli.Command{
	Action: runDump,
	Name:   "dump",
	Usage:  "lists every entry stored at a state root",
	Flags:  []cli.Flag{rootFlag},
}

var History = cli.Command{
	Action: runHistory,
	Name:   "history",
	Usage:  "prints the committed root lineage",
}

func runGenesis(c *cli.Context) error {
	n, err := openNode(c, false)
	if err != nil {
		return err
	}
	defer n.Close()

	path := c.Args().First()
	if path == "" {
		path = n.cfg.GenesisFile
	}
	if path == "" {
		return fmt.Errorf("no genesis file: pass one or set GenesisFile")
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return err
	}
	system, err := n.cfg.SystemAccountAddr()
	if err != nil {
		return err
	}
	if spec.SystemAccountAddr() != system {
		return fmt.Errorf("genesis system account %s does not match configured %s",
			spec.SystemAccountAddr().Hex(), system.Hex())
	}
	gcfg := genesis.ConfigFromSpec(spec, nil, nil)
	if gcfg.ProtocolVersion == 0 {
		gcfg.ProtocolVersion = n.cfg.ProtocolVersion
	}
	res, err := n.engine.RunGenesis(c.Context, gcfg)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "root\t%s\n", res.Root.Hex())
	fmt.Fprintf(w, "mint\t%s\n", res.Mint)
	fmt.Fprintf(w, "pos\t%s\n", res.PoS)
	fmt.Fprintf(w, "keys\t%d\n", len(res.Effects))
	return nil
}

func runQuery(c *cli.Context) error {
	n, err := openNode(c, true)
	if err != nil {
		return err
	}
	defer n.Close()

	root, err := n.root(c)
	if err != nil {
		return err
	}
	key, err := api.ParseKey(c.String("key"))
	if err != nil {
		return err
	}
	v, err := n.engine.Query(root, key, api.SplitPath(c.String("path")))
	if err != nil {
		return err
	}
	return printValue(c.App.Writer, v)
}

func runBalance(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("missing account")
	}
	account, err := api.ParseAccount(c.Args().First())
	if err != nil {
		return err
	}
	n, err := openNode(c, true)
	if err != nil {
		return err
	}
	defer n.Close()

	root, err := n.root(c)
	if err != nil {
		return err
	}
	purse, err := n.engine.MainPurse(root, account)
	if err != nil {
		return err
	}
	balance, err := n.engine.PurseBalance(root, purse)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\n", balance)
	return nil
}

func runDump(c *cli.Context) error {
	n, err := openNode(c, true)
	if err != nil {
		return err
	}
	defer n.Close()

	root, err := n.root(c)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	var walkErr error
	err = n.state.Entries(root, func(k types.Key, v types.Value) bool {
		raw, err := api.MarshalValue(v)
		if err != nil {
			walkErr = fmt.Errorf("render %s: %w", k, err)
			return false
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k, v.Tag(), raw)
		return true
	})
	if err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}
	return tw.Flush()
}

func runHistory(c *cli.Context) error {
	n, err := openNode(c, true)
	if err != nil {
		return err
	}
	defer n.Close()
	if n.journal == nil {
		return errNoJournal
	}

	gen, err := n.journal.Genesis()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "0\tgenesis\t%s\t\t%s\n", gen.Root.Hex(), gen.RecordedAt.UTC().Format(time.RFC3339))
	if err := n.journal.Commits(func(rec journal.CommitRecord) bool {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d keys\t%s\n", rec.Seq, rec.Prestate.Hex(), rec.Poststate.Hex(), rec.Keys, rec.RecordedAt.UTC().Format(time.RFC3339))
		return true
	}); err != nil {
		return err
	}
	return tw.Flush()
}

func printValue(w io.Writer, v types.Value) error {
	raw, err := api.MarshalValue(v)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", v.Tag(), out.String())
	return nil
}
