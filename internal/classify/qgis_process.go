package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandRunner executes name with args, feeding stdin, and returns stdout.
type CommandRunner func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

// ErrCommandFailed is returned by a CommandRunner when the command ran but
// exited with a non-zero status.
var ErrCommandFailed = errors.New("command exited with non-zero status")

func execRunner(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), fmt.Errorf("%w: %s: %s", ErrCommandFailed, exitErr, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("error running %s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// QGISProcess runs a processing algorithm through the qgis_process CLI.
type QGISProcess struct {
	bin       string
	algorithm string
	run       CommandRunner
}

func NewQGISProcess(bin, algorithm string) *QGISProcess {
	return &QGISProcess{bin: bin, algorithm: algorithm, run: execRunner}
}

func NewQGISProcessWithRunner(bin, algorithm string, runner CommandRunner) *QGISProcess {
	return &QGISProcess{bin: bin, algorithm: algorithm, run: runner}
}

func (q *QGISProcess) Algorithm() string {
	return q.algorithm
}

// Load checks that the algorithm is registered with the local QGIS install.
func (q *QGISProcess) Load(ctx context.Context) error {
	out, err := q.run(ctx, q.bin, []string{"--json", "help", q.algorithm}, nil)
	if err != nil {
		return fmt.Errorf("algorithm %s is not available: %w", q.algorithm, err)
	}

	var help struct {
		Algorithm struct {
			Id   string `json:"id"`
			Name string `json:"name"`
		} `json:"algorithm_details"`
	}
	if err := json.Unmarshal(out, &help); err != nil {
		return fmt.Errorf("error parsing qgis_process help output: %w", err)
	}

	slog.Info("classification algorithm loaded", "algorithm", q.algorithm, "name", help.Algorithm.Name)
	return nil
}

func (q *QGISProcess) Run(ctx context.Context, params Params) (Results, error) {
	input, err := json.Marshal(map[string]any{"inputs": params})
	if err != nil {
		return nil, fmt.Errorf("error serializing algorithm inputs: %w", err)
	}

	out, err := q.run(ctx, q.bin, []string{"--json", "run", q.algorithm, "-"}, input)
	if err != nil {
		if errors.Is(err, ErrCommandFailed) {
			slog.Error("qgis_process reported failure", "algorithm", q.algorithm, "error", err)
			return nil, ErrAlgorithmFailed
		}
		return nil, err
	}

	var output struct {
		Results Results `json:"results"`
	}
	if err := json.Unmarshal(out, &output); err != nil {
		return nil, fmt.Errorf("error parsing qgis_process output: %w", err)
	}
	if output.Results == nil {
		return Results{}, nil
	}
	return output.Results, nil
}
