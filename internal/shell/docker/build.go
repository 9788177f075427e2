package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
)

// ErrImageBuildFailed marks an image build that the daemon rejected or that
// reported an error in its output stream.
var ErrImageBuildFailed = errors.New("image build failed")

// BuildImage builds an image from a context directory and a build file.
// The daemon streams build progress as JSON messages; an error message in
// the stream fails the build even when the HTTP call itself succeeded.
func (d *DockerClient) BuildImage(ctx context.Context, spec BuildSpec) error {
	if spec.ContextDir == "" {
		return NewRuntimeError("BuildImage", "image", spec.Tag, "build context cannot be empty", ErrImageBuildFailed)
	}
	if spec.Tag == "" {
		return NewRuntimeError("BuildImage", "image", "", "image tag cannot be empty", ErrImageBuildFailed)
	}

	buildCtx, err := archive.TarWithOptions(spec.ContextDir, &archive.TarOptions{})
	if err != nil {
		return NewRuntimeError("BuildImage", "image", spec.Tag, fmt.Sprintf("create build context: %v", err), ErrImageBuildFailed)
	}
	defer buildCtx.Close()

	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	opts := types.ImageBuildOptions{
		Tags:        []string{spec.Tag},
		Dockerfile:  dockerfile,
		BuildArgs:   spec.Args,
		Labels:      spec.Labels,
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := d.cli.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return NewRuntimeError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return NewRuntimeError("BuildImage", "image", spec.Tag, fmt.Sprintf("decode build output: %v", err), ErrImageBuildFailed)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return NewRuntimeError("BuildImage", "image", spec.Tag, errMsg, ErrImageBuildFailed)
		}
	}
	return nil
}

// buildMessage is one JSON message in the daemon's build output stream.
type buildMessage struct {
	Stream      string           `json:"stream"`
	Status      string           `json:"status"`
	Error       string           `json:"error"`
	ErrorDetail buildErrorDetail `json:"errorDetail"`
}

type buildErrorDetail struct {
	Message string `json:"message"`
}

func (m buildMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	if strings.TrimSpace(m.ErrorDetail.Message) != "" {
		return strings.TrimSpace(m.ErrorDetail.Message)
	}
	return ""
}
