package printing

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	RawSpoolTimeout  = 15 * time.Second
	FileSpoolTimeout = 30 * time.Second
	listTimeout      = 10 * time.Second
)

var ErrSpoolerUnavailable = errors.New("lp command not found; install the CUPS client")

// Spooler submits jobs to the host print system.
type Spooler interface {
	PrintRaw(ctx context.Context, printer string, data []byte) error
	PrintFile(ctx context.Context, printer, path string) error
	ListPrinters(ctx context.Context) ([]string, error)
}

// CUPSSpooler drives the CUPS command line client.
type CUPSSpooler struct {
	LPPath     string
	LPStatPath string
}

func NewCUPSSpooler() *CUPSSpooler {
	return &CUPSSpooler{LPPath: "lp", LPStatPath: "lpstat"}
}

// PrintRaw sends data with -o raw so the printer receives the bytes as-is.
func (s *CUPSSpooler) PrintRaw(ctx context.Context, printer string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, RawSpoolTimeout)
	defer cancel()

	args := []string{"-o", "raw"}
	if printer != "" {
		args = append(args, "-d", printer)
	}
	cmd := exec.CommandContext(ctx, s.LPPath, args...)
	cmd.Stdin = bytes.NewReader(data)
	return run(ctx, cmd)
}

func (s *CUPSSpooler) PrintFile(ctx context.Context, printer, path string) error {
	ctx, cancel := context.WithTimeout(ctx, FileSpoolTimeout)
	defer cancel()

	var args []string
	if printer != "" {
		args = append(args, "-d", printer)
	}
	args = append(args, path)
	return run(ctx, exec.CommandContext(ctx, s.LPPath, args...))
}

// ListPrinters returns the queue names reported by lpstat -p.
func (s *CUPSSpooler) ListPrinters(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, s.LPStatPath, "-p")
	cmd.Stdout = &out
	if err := run(ctx, cmd); err != nil {
		return nil, err
	}
	return ParseLPStat(out.String()), nil
}

// ParseLPStat extracts printer names from "printer <name> is ..." lines.
func ParseLPStat(output string) []string {
	var printers []string
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "printer" {
			printers = append(printers, fields[1])
		}
	}
	return printers
}

func run(ctx context.Context, cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	if cmd.Stderr == nil {
		cmd.Stderr = &stderr
	}
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return ErrSpoolerUnavailable
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", cmd.Path, ctx.Err())
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return fmt.Errorf("%s: %w: %s", cmd.Path, err, msg)
	}
	return fmt.Errorf("%s: %w", cmd.Path, err)
}
