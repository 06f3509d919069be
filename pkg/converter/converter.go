package converter

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foliobooks/folio/pkg/events"
	"github.com/foliobooks/folio/pkg/formats"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// wellKnownPaths are probed in order before falling back to a PATH lookup.
var wellKnownPaths = []string{
	"/usr/bin/ebook-convert",
	"/usr/local/bin/ebook-convert",
	"/opt/calibre/ebook-convert",
	"/Applications/calibre.app/Contents/MacOS/ebook-convert",
}

const (
	convertBinaryName  = "ebook-convert"
	metadataBinaryName = "ebook-meta"

	// stderrTailSize bounds how much stderr we keep for error reporting.
	stderrTailSize = 4096
)

// supportedOutputs is the set of formats Convert can produce.
var supportedOutputs = map[string]bool{
	formats.FormatEPUB: true,
	formats.FormatMOBI: true,
	formats.FormatAZW3: true,
	formats.FormatPDF:  true,
}

// jpegQualityOutputs are the targets that accept the --jpeg-quality flag.
var jpegQualityOutputs = map[string]bool{
	formats.FormatPDF:  true,
	formats.FormatMOBI: true,
	formats.FormatAZW3: true,
}

// ConvertOptions tune a single conversion.
type ConvertOptions struct {
	// Profile is a device output profile (e.g. "kindle").
	Profile string
	// PreserveEmbeddedMetadata keeps the source's OPF metadata.
	PreserveEmbeddedMetadata bool
	// Quality is the JPEG quality in [0,100]; out-of-range values clamp.
	Quality int
	// OutputDir overrides the default of the source file's directory.
	OutputDir string
	// ExtraArgs are appended verbatim after the generated arguments.
	ExtraArgs []string
}

type job struct {
	id        string
	cancel    context.CancelFunc
	cancelled bool
	startedAt time.Time
}

// Converter drives the external transcoder binary. The active-jobs registry
// is shared state; all access goes through mu.
type Converter struct {
	mu         sync.Mutex
	binaryPath string
	metaPath   string
	jobs       map[string]*job

	hub *events.Hub
	log logger.Logger
}

// New probes for the converter binary and returns a Converter. A missing
// binary is not an error at construction; IsAvailable reports the outcome and
// Refresh re-probes later.
func New(hub *events.Hub) *Converter {
	c := &Converter{
		jobs: map[string]*job{},
		hub:  hub,
		log:  logger.New(),
	}
	c.Refresh()
	return c
}

// Refresh re-probes for the converter and metadata binaries. The user may
// install them mid-session.
func (c *Converter) Refresh() {
	binary := probeBinary()
	meta := probeMetadataBinary(binary)

	c.mu.Lock()
	c.binaryPath = binary
	c.metaPath = meta
	c.mu.Unlock()
}

// SetBinaryPath overrides the probed converter location, e.g. when the user
// points at a custom install. An empty path marks the converter unavailable
// until the next Refresh.
func (c *Converter) SetBinaryPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binaryPath = path
}

// IsAvailable reports whether the converter binary was located.
func (c *Converter) IsAvailable() bool {
	return c.BinaryPath() != ""
}

// BinaryPath returns the resolved converter binary path, or "".
func (c *Converter) BinaryPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binaryPath
}

// NewJobID mints an id for a conversion job. Mint one before calling Convert
// so the job can be cancelled from another goroutine.
func (c *Converter) NewJobID() string {
	return uuid.NewString()
}

// ActiveJobs returns the number of currently running jobs.
func (c *Converter) ActiveJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Cancel terminates the job with the given id. Idempotent; unknown ids are
// ignored. The in-flight Convert call observes the cancellation and returns
// ErrCancelled.
func (c *Converter) Cancel(jobID string) {
	c.mu.Lock()
	j, ok := c.jobs[jobID]
	if ok {
		j.cancelled = true
	}
	c.mu.Unlock()

	if ok {
		j.cancel()
	}
}

// Convert transcodes source into target format, blocking until the
// subprocess exits or the job is cancelled. Returns the output path.
func (c *Converter) Convert(ctx context.Context, jobID, source, target string, opts ConvertOptions) (string, error) {
	binary := c.BinaryPath()
	if binary == "" {
		return "", errors.WithStack(ErrConverterMissing)
	}

	if _, err := os.Stat(source); err != nil {
		return "", errors.WithStack(&SourceMissingError{Path: source})
	}

	inputTag := formats.FromPath(source)
	if inputTag == "" {
		return "", errors.WithStack(&UnsupportedInputError{Format: strings.TrimPrefix(filepath.Ext(source), ".")})
	}

	target = strings.ToLower(target)
	if !supportedOutputs[target] {
		return "", errors.WithStack(&UnsupportedOutputError{Format: target})
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	outputPath := filepath.Join(outputDir, base+"."+target)

	args := buildArgs(source, outputPath, target, opts)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(jobCtx, binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", errors.WithStack(err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	j := &job{id: jobID, cancel: cancel, startedAt: time.Now()}

	c.mu.Lock()
	c.jobs[jobID] = j
	c.mu.Unlock()

	// The job always leaves the registry before Convert returns.
	defer func() {
		c.mu.Lock()
		delete(c.jobs, jobID)
		c.mu.Unlock()
	}()

	if err := cmd.Start(); err != nil {
		return "", errors.WithStack(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if progress, ok := parseProgressLine(jobID, scanner.Text(), j.startedAt); ok {
				c.publishProgress(progress)
			}
		}
	}()

	waitErr := cmd.Wait()
	<-done

	c.mu.Lock()
	cancelled := j.cancelled
	c.mu.Unlock()

	if cancelled || (ctx.Err() != nil && waitErr != nil) {
		// Delete any partial output.
		os.Remove(outputPath)
		c.publishTerminal(jobID, "Cancelled", j.startedAt)
		return "", errors.WithStack(ErrCancelled)
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		c.publishTerminal(jobID, "Failed", j.startedAt)
		return "", errors.WithStack(&ProcessFailedError{
			ExitCode:   exitCode,
			StderrTail: stderrTail(stderr.Bytes()),
		})
	}

	if _, err := os.Stat(outputPath); err != nil {
		c.publishTerminal(jobID, "Failed", j.startedAt)
		return "", errors.WithStack(&ProcessFailedError{
			ExitCode:   0,
			StderrTail: "output file missing: " + stderrTail(stderr.Bytes()),
		})
	}

	c.publishFinal(Progress{
		JobID:     jobID,
		Percent:   100,
		Operation: "Complete",
		Elapsed:   time.Since(j.startedAt),
		Done:      true,
	})

	return outputPath, nil
}

func buildArgs(source, outputPath, target string, opts ConvertOptions) []string {
	args := []string{source, outputPath}
	if opts.Profile != "" {
		args = append(args, "--output-profile", opts.Profile)
	}
	if jpegQualityOutputs[target] {
		args = append(args, "--jpeg-quality", strconv.Itoa(clampQuality(opts.Quality)))
	}
	if opts.PreserveEmbeddedMetadata {
		args = append(args, "--read-metadata-from-opf")
	}
	return append(args, opts.ExtraArgs...)
}

func clampQuality(q int) int {
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}

func (c *Converter) publishProgress(progress Progress) {
	if c.hub != nil {
		c.hub.Publish(events.TypeConversionProgress, progress)
	}
}

// publishFinal reports the terminal state of a job. Subscribers that missed
// intermediates still see this one.
func (c *Converter) publishFinal(progress Progress) {
	if c.hub != nil {
		c.hub.PublishFinal(events.TypeConversionProgress, progress)
	}
}

func (c *Converter) publishTerminal(jobID, operation string, startedAt time.Time) {
	c.publishFinal(Progress{
		JobID:     jobID,
		Operation: operation,
		Elapsed:   time.Since(startedAt),
		Done:      true,
	})
}

func stderrTail(b []byte) string {
	if len(b) > stderrTailSize {
		b = b[len(b)-stderrTailSize:]
	}
	return strings.TrimSpace(string(b))
}

func probeBinary() string {
	for _, path := range wellKnownPaths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	if path, err := exec.LookPath(convertBinaryName); err == nil {
		return path
	}
	return ""
}

// probeMetadataBinary looks for the metadata tool next to the converter
// first, then on PATH.
func probeMetadataBinary(converterPath string) string {
	if converterPath != "" {
		sibling := filepath.Join(filepath.Dir(converterPath), metadataBinaryName)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling
		}
	}
	if path, err := exec.LookPath(metadataBinaryName); err == nil {
		return path
	}
	return ""
}
