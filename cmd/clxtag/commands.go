package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"clxtag/api"
	"clxtag/config"
	"clxtag/mirror"
	"clxtag/plc"
	"clxtag/plcman"
	"clxtag/tag"
)

// commands are the one-shot subcommands. Each returns the exit code.
var commands = map[string]func(args []string) int{
	"read":     cmdRead,
	"write":    cmdWrite,
	"identify": cmdIdentify,
	"hash-key": cmdHashKey,
}

// target holds the flags that select a controller: either a PLC from the
// config file or an explicit gateway.
type target struct {
	configPath *string
	name       *string
	gateway    *string
	path       *string
	family     *string
	timeout    *time.Duration
	typ        *string
}

func addTargetFlags(fs *flag.FlagSet) *target {
	return &target{
		configPath: fs.String("config", config.DefaultPath(), "Path to configuration file"),
		name:       fs.String("plc", "", "Configured PLC name"),
		gateway:    fs.String("gateway", "", "Controller address (instead of -plc)"),
		path:       fs.String("path", config.DefaultRoute, "Route path used with -gateway"),
		family:     fs.String("family", "controllogix", "Controller family used with -gateway"),
		timeout:    fs.Duration("timeout", config.DefaultTimeout, "Request timeout"),
		typ:        fs.String("type", "", "Tag type: bool, bit, sint, int, dint, lint, real, string"),
	}
}

// resolve builds the PLC config the flags describe.
func (t *target) resolve() (config.PLCConfig, error) {
	if *t.gateway != "" {
		return config.PLCConfig{
			Name:    "cli",
			Address: *t.gateway,
			Path:    *t.path,
			PLC:     *t.family,
			Timeout: *t.timeout,
		}, nil
	}
	if *t.name == "" {
		return config.PLCConfig{}, errors.New("one of -plc or -gateway is required")
	}
	cfg, err := config.Load(*t.configPath)
	if err != nil {
		return config.PLCConfig{}, err
	}
	pc := cfg.FindPLC(*t.name)
	if pc == nil {
		return config.PLCConfig{}, fmt.Errorf("plc %q not found in %s", *t.name, *t.configPath)
	}
	return *pc, nil
}

// open returns a client for the target, ready for one request.
func (t *target) open() (*plc.PLC, tag.Type, error) {
	typ, err := tag.ParseType(*t.typ)
	if err != nil {
		return nil, 0, err
	}
	pc, err := t.resolve()
	if err != nil {
		return nil, 0, err
	}
	m := plcman.NewManager()
	mp, err := m.AddPLC(pc)
	if err != nil {
		return nil, 0, err
	}
	return mp.Client, typ, nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func exitCode[T any](r tag.Response[T]) int {
	if r.Success() {
		return 0
	}
	return 2
}

func cmdRead(args []string) int {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	t := addTargetFlags(fs)
	length := fs.Int("length", 0, "Array length (0 reads a scalar)")
	start := fs.Int("start", 0, "First element of a range read")
	count := fs.Int("count", 0, "Elements in a range read (0 reads the whole array)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: clxtag read -plc NAME -type TYPE [-length N [-start S -count C]] TAG")
		return 1
	}

	p, typ, err := t.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *t.timeout)
	defer cancel()

	name := fs.Arg(0)
	var resp tag.Response[any]
	switch {
	case *length == 0:
		resp = p.DRead(ctx, name, typ)
	case *count > 0:
		resp = p.DReadArray(ctx, name, typ, tag.Range(*length, *start, *count))
	default:
		resp = p.DReadArray(ctx, name, typ, tag.Array(*length))
	}
	printJSON(os.Stdout, resp)
	return exitCode(resp)
}

func cmdWrite(args []string) int {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	t := addTargetFlags(fs)
	length := fs.Int("length", 0, "Array length for a range write (default: number of values)")
	start := fs.Int("start", 0, "First element of a range write")
	array := fs.Bool("array", false, "Treat a single value as a one element array")
	fs.Parse(args)
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: clxtag write -plc NAME -type TYPE [-length N -start S] TAG VALUE...")
		return 1
	}

	p, _, err := t.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *t.timeout)
	defer cancel()

	req := mirror.WriteRequest{
		PLC:    p.Name(),
		Tag:    fs.Arg(0),
		Type:   *t.typ,
		Value:  writeValue(fs.Args()[1:], *array),
		Length: *length,
		Start:  *start,
	}
	resp := mirror.Apply(ctx, p, req)
	printJSON(os.Stdout, resp)
	return exitCode(resp)
}

// writeValue turns command line values into a write request value: a
// single value stays scalar unless forced, several become a list.
func writeValue(vals []string, forceArray bool) any {
	if len(vals) == 1 && !forceArray {
		return vals[0]
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func cmdIdentify(args []string) int {
	fs := flag.NewFlagSet("identify", flag.ExitOnError)
	timeout := fs.Duration("timeout", config.DefaultTimeout, "Request timeout")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: clxtag identify [-timeout D] ADDRESS")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	id, err := plcman.Identify(ctx, fs.Arg(0), *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	printJSON(os.Stdout, map[string]any{
		"address":  fs.Arg(0),
		"product":  id.ProductName,
		"vendor":   id.VendorID,
		"device":   id.DeviceType,
		"code":     id.ProductCode,
		"revision": fmt.Sprintf("%d.%d", id.RevisionMajor, id.RevisionMinor),
		"serial":   fmt.Sprintf("%08X", id.SerialNumber),
		"status":   fmt.Sprintf("0x%04X", id.Status),
	})
	return 0
}

func cmdHashKey(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: clxtag hash-key KEY")
		return 1
	}
	hash, err := api.HashKey(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}
