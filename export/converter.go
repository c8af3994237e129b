package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrConverterUnavailable signals that a format conversion backend is not
// configured. Finalize treats this as a skip, not a failure: the markdown
// artifact is the contract, converted formats are best-effort.
var ErrConverterUnavailable = errors.New("converter unavailable")

// Converter turns the final markdown into distribution formats. The
// implementation is deployment-specific (pandoc sidecar, external
// service); the kernel only defines the seam.
type Converter interface {
	ToPDF(ctx context.Context, markdown []byte) ([]byte, error)
	ToDOCX(ctx context.Context, markdown []byte) ([]byte, error)
}

// NoConverter is the default Converter: every conversion is unavailable.
type NoConverter struct{}

func (NoConverter) ToPDF(context.Context, []byte) ([]byte, error) {
	return nil, ErrConverterUnavailable
}

func (NoConverter) ToDOCX(context.Context, []byte) ([]byte, error) {
	return nil, ErrConverterUnavailable
}

// CommandConverter shells out to a pandoc binary. The output format is
// chosen by the target file extension, which every pandoc release
// understands.
type CommandConverter struct {
	Path string
}

func NewCommandConverter(path string) *CommandConverter {
	return &CommandConverter{Path: path}
}

func (c *CommandConverter) ToPDF(ctx context.Context, markdown []byte) ([]byte, error) {
	return c.run(ctx, markdown, "pdf")
}

func (c *CommandConverter) ToDOCX(ctx context.Context, markdown []byte) ([]byte, error) {
	return c.run(ctx, markdown, "docx")
}

func (c *CommandConverter) run(ctx context.Context, markdown []byte, ext string) ([]byte, error) {
	if c.Path == "" {
		return nil, ErrConverterUnavailable
	}
	if _, err := exec.LookPath(c.Path); err != nil {
		return nil, ErrConverterUnavailable
	}

	out, err := os.CreateTemp("", "docwriter-*."+ext)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	outPath := out.Name()
	_ = out.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, c.Path, "-f", "markdown", "-o", outPath)
	cmd.Stdin = bytes.NewReader(markdown)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s to %s: %w: %s", c.Path, ext, err, stderr.String())
	}
	return os.ReadFile(outPath)
}
