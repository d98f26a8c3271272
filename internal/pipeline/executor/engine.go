package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

// PoseEngine computes tabular pose data for one algorithm variant. The
// computation is a black box: deterministic per (content, variant) pair up
// to the underlying library's own nondeterminism.
type PoseEngine interface {
	ExtractPose(ctx context.Context, videoPath string) ([]byte, error)
	Close() error
}

// RenderEngine produces the final derived video from pose data and the
// original input video, returning an opaque reference to the output.
type RenderEngine interface {
	Render(ctx context.Context, poseData []byte, videoPath string) (string, error)
}

// CommandPoseEngine shells out to an external pose-extraction binary. The
// binary receives the video path and the variant's model name and writes
// CSV pose data to stdout.
type CommandPoseEngine struct {
	command string
	variant int
}

// NewCommandPoseEngine creates a pose engine for one algorithm variant.
func NewCommandPoseEngine(command string, variant int) (*CommandPoseEngine, error) {
	if !domain.KnownAlgorithm(variant) {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownAlgorithm, variant)
	}
	return &CommandPoseEngine{command: command, variant: variant}, nil
}

func (e *CommandPoseEngine) ExtractPose(ctx context.Context, videoPath string) ([]byte, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("input video missing: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.command, videoPath, domain.AlgorithmName(e.variant))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pose extraction command failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

func (e *CommandPoseEngine) Close() error {
	return nil
}

// CommandRenderEngine shells out to an external renderer. The binary
// receives the pose data path, the input video path and an output
// directory, and prints the produced output path on stdout.
type CommandRenderEngine struct {
	command   string
	outputDir string
}

// NewCommandRenderEngine creates a render engine writing into outputDir.
func NewCommandRenderEngine(command, outputDir string) *CommandRenderEngine {
	return &CommandRenderEngine{command: command, outputDir: outputDir}
}

func (e *CommandRenderEngine) Render(ctx context.Context, poseData []byte, videoPath string) (string, error) {
	poseFile := filepath.Join(os.TempDir(), "posepipe-render-"+uuid.New().String()+".csv")
	if err := os.WriteFile(poseFile, poseData, 0o600); err != nil {
		return "", fmt.Errorf("failed to stage pose data for render: %w", err)
	}
	defer os.Remove(poseFile)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.command, poseFile, videoPath, e.outputDir)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("render command failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	outputRef := strings.TrimSpace(stdout.String())
	if outputRef == "" {
		return "", fmt.Errorf("render command produced no output reference")
	}

	return outputRef, nil
}
