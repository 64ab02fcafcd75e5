// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// rayavm is the command-line front end for the RAYA execution core: load a
// module binary, run its entry function, inspect bytecode, dump isolate
// statistics, or poke at a module in an interactive REPL.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/probeum/raya/isolate"
	"github.com/probeum/raya/log"
	"github.com/probeum/raya/module"
	"github.com/probeum/raya/value"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML resource-limit config file",
	}
	entryFlag = cli.StringFlag{
		Name:  "entry",
		Usage: "entry function name",
		Value: "main",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Usage: "maximum time to wait for the entry task",
		Value: 30 * time.Second,
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0=error .. 4=trace)",
		Value: int(log.LvlInfo),
	}
	dumpFlag = cli.BoolFlag{
		Name:  "dump",
		Usage: "spew-dump the decoded module before running",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "rayavm"
	app.Usage = "RAYA virtual machine"
	app.Flags = []cli.Flag{verbosityFlag}
	app.Before = func(ctx *cli.Context) error {
		log.SetLevel(log.Lvl(ctx.GlobalInt(verbosityFlag.Name)))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:      "run",
			Usage:     "run a module's entry function",
			ArgsUsage: "<module.rbc> [args...]",
			Flags:     []cli.Flag{configFlag, entryFlag, timeoutFlag, dumpFlag},
			Action:    runCmd,
		},
		{
			Name:      "disasm",
			Usage:     "disassemble every function in a module",
			ArgsUsage: "<module.rbc>",
			Action:    disasmCmd,
		},
		{
			Name:      "stats",
			Usage:     "run a module and dump isolate statistics",
			ArgsUsage: "<module.rbc>",
			Flags:     []cli.Flag{configFlag, entryFlag, timeoutFlag},
			Action:    statsCmd,
		},
		{
			Name:      "repl",
			Usage:     "interactive module inspector",
			ArgsUsage: "<module.rbc>",
			Flags:     []cli.Flag{configFlag},
			Action:    replCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rayavm:", err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (isolate.Config, error) {
	if path := ctx.String(configFlag.Name); path != "" {
		return isolate.LoadConfig(path)
	}
	return isolate.DefaultConfig(), nil
}

// parseArgs converts trailing CLI arguments into entry-function values:
// integers become i32, floats f64, "true"/"false" bool, everything else a
// heap string.
func parseArgs(iso *isolate.Isolate, raw []string) ([]value.Value, error) {
	out := make([]value.Value, 0, len(raw))
	for _, a := range raw {
		switch {
		case a == "true" || a == "false":
			out = append(out, value.FromBool(a == "true"))
		default:
			if i, err := strconv.ParseInt(a, 10, 32); err == nil {
				out = append(out, value.FromI32(int32(i)))
			} else if f, err := strconv.ParseFloat(a, 64); err == nil {
				out = append(out, value.FromF64(f))
			} else {
				sv, err := iso.Heap.AllocString([]byte(a))
				if err != nil {
					return nil, err
				}
				out = append(out, sv)
			}
		}
	}
	return out, nil
}

func newIsolate(ctx *cli.Context, path string) (*isolate.Isolate, uint32, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, 0, err
	}
	iso := isolate.New(cfg)
	modID, err := iso.LoadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return iso, modID, nil
}

func runCmd(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.NewExitError("run: a module file is required", 1)
	}
	path := ctx.Args().First()

	if ctx.Bool(dumpFlag.Name) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		m, err := module.Decode(raw)
		if err != nil {
			return err
		}
		spew.Fdump(os.Stderr, m.Meta, m.Classes, m.Natives)
	}

	iso, modID, err := newIsolate(ctx, path)
	if err != nil {
		return err
	}
	defer iso.Terminate()
	iso.Start(context.Background())

	args, err := parseArgs(iso, ctx.Args().Tail())
	if err != nil {
		return err
	}
	tid, err := iso.RunEntry(modID, ctx.String(entryFlag.Name), args)
	if err != nil {
		return err
	}
	result, err := iso.AwaitTask(tid, ctx.Duration(timeoutFlag.Name))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("task failed: %v", err), 2)
	}
	fmt.Println(formatValue(iso, result))
	return nil
}

func disasmCmd(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("disasm: a module file is required", 1)
	}
	raw, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	m, err := module.Decode(raw)
	if err != nil {
		return err
	}
	text, err := module.DisassembleModule(m)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

func statsCmd(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.NewExitError("stats: a module file is required", 1)
	}
	iso, modID, err := newIsolate(ctx, ctx.Args().First())
	if err != nil {
		return err
	}
	defer iso.Terminate()
	iso.Start(context.Background())

	tid, err := iso.RunEntry(modID, ctx.String(entryFlag.Name), nil)
	if err != nil {
		return err
	}
	if _, err := iso.AwaitTask(tid, ctx.Duration(timeoutFlag.Name)); err != nil {
		log.Warn("entry task failed", "err", err)
	}

	st := iso.Stats()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	rows := [][]string{
		{"isolate", st.ContextID.String()},
		{"heap bytes", strconv.FormatUint(st.HeapBytes, 10)},
		{"live objects", strconv.Itoa(st.LiveObjs)},
		{"tasks", strconv.Itoa(st.Tasks)},
		{"total steps", strconv.FormatUint(st.TotalSteps, 10)},
		{"gc cycles", strconv.FormatUint(st.GC.Collections, 10)},
		{"gc freed objects", strconv.FormatUint(st.GC.ObjectsFreed, 10)},
		{"gc max pause", time.Duration(st.GC.MaxPauseNanos).String()},
		{"tasks completed", strconv.FormatUint(st.Scheduler.Completed, 10)},
		{"tasks failed", strconv.FormatUint(st.Scheduler.Failed, 10)},
		{"tasks suspended", strconv.FormatUint(st.Scheduler.Suspended, 10)},
		{"tasks preempted", strconv.FormatUint(st.Scheduler.Preempted, 10)},
		{"safepoints", strconv.FormatUint(st.Safepoint.Total, 10)},
	}
	for _, r := range rows {
		table.Append(r)
	}
	table.Render()
	return nil
}

func replCmd(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("repl: a module file is required", 1)
	}
	iso, modID, err := newIsolate(ctx, ctx.Args().First())
	if err != nil {
		return err
	}
	defer iso.Terminate()
	iso.Start(context.Background())

	raw, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	m, err := module.Decode(raw)
	if err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	names := make([]string, len(m.Functions))
	for i, f := range m.Functions {
		names[i] = f.Name
	}
	line.SetCompleter(func(prefix string) (out []string) {
		for _, n := range names {
			if strings.HasPrefix(n, prefix) {
				out = append(out, n)
			}
		}
		return out
	})

	fmt.Printf("module %s: %d functions, %d classes. Commands: list, dis <fn>, call <fn> [args], stats, quit\n",
		m.Meta.Name, len(m.Functions), len(m.Classes))

	for {
		input, err := line.Prompt("raya> ")
		if err != nil {
			return nil // EOF or ctrl-c
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		fields := strings.Fields(input)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "list":
			for i, f := range m.Functions {
				fmt.Printf("%4d  %s(%d params)\n", i, f.Name, f.ParamCount)
			}
		case "dis":
			if len(fields) != 2 {
				fmt.Println("usage: dis <function>")
				continue
			}
			id, ok := m.EntryFuncID(fields[1])
			if !ok {
				fmt.Printf("no function %q\n", fields[1])
				continue
			}
			text, derr := module.Disassemble(&m.Functions[id])
			if derr != nil {
				fmt.Println("disassembly error:", derr)
			}
			fmt.Print(text)
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <function> [args...]")
				continue
			}
			args, aerr := parseArgs(iso, fields[2:])
			if aerr != nil {
				fmt.Println("bad arguments:", aerr)
				continue
			}
			tid, rerr := iso.RunEntry(modID, fields[1], args)
			if rerr != nil {
				fmt.Println(rerr)
				continue
			}
			result, werr := iso.AwaitTask(tid, 30*time.Second)
			if werr != nil {
				fmt.Println("task failed:", werr)
				continue
			}
			fmt.Println(formatValue(iso, result))
		case "stats":
			spew.Dump(iso.Stats())
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

// formatValue renders a task result for the terminal: primitives print
// directly, heap strings print their content, other references print their
// kind.
func formatValue(iso *isolate.Isolate, v value.Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.IsBool():
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case v.IsI32():
		i, _ := v.AsI32()
		return strconv.FormatInt(int64(i), 10)
	case v.IsI64():
		i, _ := v.AsI64()
		return strconv.FormatInt(i, 10)
	case v.IsU64():
		u, _ := v.AsU64()
		return strconv.FormatUint(u, 10)
	case v.IsF64():
		f, _ := v.AsF64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		if obj, ok := iso.Heap.Resolve(v); ok {
			if s, ok := obj.(interface{ String() string }); ok {
				return s.String()
			}
			return fmt.Sprintf("<%s>", obj.Hdr().Kind)
		}
		return "<dangling>"
	}
}
