// driftwood computes, applies and verifies directory tree patches.
//
// Usage:
//
//	driftwood diff [-block-size N] <old> <new> <patch>
//	driftwood apply [-strict-deletes] <patch> <ref> <out>
//	driftwood verify <patch> <dir>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/itchio/headway/state"
	"github.com/itchio/headway/united"
	"github.com/itchio/savior/seeksource"
	"github.com/pkg/profile"
	"github.com/rs/zerolog"

	"github.com/wavemill/driftwood/patch"
)

var log zerolog.Logger

func main() {
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	cpuProfile := flag.Bool("cpuprofile", false, "Write a CPU profile next to the binary")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	if *cpuProfile {
		defer profile.Start().Stop()
	}

	if flag.NArg() < 1 {
		usage()
	}

	var err error
	switch flag.Arg(0) {
	case "diff":
		err = doDiff(flag.Args()[1:])
	case "apply":
		err = doApply(flag.Args()[1:])
	case "verify":
		err = doVerify(flag.Args()[1:])
	default:
		usage()
	}

	if err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: driftwood [-verbose] [-cpuprofile] <command> [options] <args>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  diff   [-block-size N] <old> <new> <patch>   compute a patch turning old into new")
	fmt.Fprintln(os.Stderr, "  apply  [-strict-deletes] <patch> <ref> <out> rebuild a tree from ref and a patch")
	fmt.Fprintln(os.Stderr, "  verify <patch> <dir>                         check a tree against a patch")
	os.Exit(1)
}

// consumer routes library progress and messages into the CLI logger.
func consumer() *state.Consumer {
	return &state.Consumer{
		OnMessage: func(lvl string, msg string) {
			switch lvl {
			case "debug":
				log.Debug().Msg(msg)
			case "warning":
				log.Warn().Msg(msg)
			default:
				log.Info().Msg(msg)
			}
		},
	}
}

func doDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	blockSize := fs.Int("block-size", patch.DefaultBlockSize, "Block size in bytes")
	fs.Parse(args)

	if fs.NArg() != 3 {
		usage()
	}
	oldDir, newDir, patchPath := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	startTime := time.Now()

	dctx := &patch.DiffContext{
		BlockSize: *blockSize,
		Consumer:  consumer(),
		OldFs:     osfs.New(oldDir),
		NewFs:     osfs.New(newDir),
	}

	p, err := dctx.ComputePatch(context.Background())
	if err != nil {
		return err
	}

	out, err := os.Create(patchPath)
	if err != nil {
		return err
	}

	err = patch.WritePatch(out, p)
	if err != nil {
		out.Close()
		return err
	}
	err = out.Close()
	if err != nil {
		return err
	}

	stat, err := os.Stat(patchPath)
	if err != nil {
		return err
	}

	log.Info().
		Int("entries", len(p.Entries)).
		Str("patch_size", united.FormatBytes(stat.Size())).
		Dur("elapsed", time.Since(startTime)).
		Msg("patch written")
	return nil
}

func doApply(args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	strictDeletes := fs.Bool("strict-deletes", false, "Treat deletes of missing paths as errors")
	fs.Parse(args)

	if fs.NArg() != 3 {
		usage()
	}
	patchPath, refDir, outDir := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	p, err := readPatchFile(patchPath)
	if err != nil {
		return err
	}

	startTime := time.Now()

	actx := &patch.ApplyContext{
		Consumer:      consumer(),
		StrictDeletes: *strictDeletes,
		RefFs:         osfs.New(refDir),
		OutFs:         osfs.New(outDir),
	}

	report, err := actx.Apply(context.Background(), p)
	if err != nil {
		return err
	}

	for _, pe := range report.Errors {
		log.Error().Str("path", pe.Path).Err(pe.Err).Msg("apply failure")
	}

	log.Info().
		Int64("files", actx.Stats.Files).
		Int64("dirs", actx.Stats.Dirs).
		Int64("symlinks", actx.Stats.Symlinks).
		Int64("deleted", actx.Stats.Deleted).
		Str("written", united.FormatBytes(actx.Stats.BytesWritten)).
		Str("reused", united.FormatBytes(actx.Stats.BytesReused)).
		Dur("elapsed", time.Since(startTime)).
		Msg("patch applied")

	if !report.Ok() {
		os.Exit(2)
	}
	return nil
}

func doVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 2 {
		usage()
	}
	patchPath, dir := fs.Arg(0), fs.Arg(1)

	p, err := readPatchFile(patchPath)
	if err != nil {
		return err
	}

	report, err := patch.Verify(osfs.New(dir), p)
	if err != nil {
		return err
	}

	for _, pe := range report.Errors {
		log.Error().Str("path", pe.Path).Err(pe.Err).Msg("verify failure")
	}

	if !report.Ok() {
		os.Exit(2)
	}

	log.Info().Int("entries", len(p.Entries)).Msg("tree matches patch")
	return nil
}

func readPatchFile(path string) (*patch.Patch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return patch.ReadPatch(seeksource.FromFile(f))
}
