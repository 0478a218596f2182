package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"synister/internal/core"
)

// labels decodes either a single label or a list of labels.
type labels []string

func (l *labels) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = labels{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("labels must be a string or a list of strings: %w", err)
	}
	*l = many
	return nil
}

// synapseLine is one JSON line of ingest input.
type synapseLine struct {
	X          int64   `json:"x"`
	Y          int64   `json:"y"`
	Z          int64   `json:"z"`
	SynapseID  *int64  `json:"synapse_id"`
	SkeletonID *int64  `json:"skeleton_id"`
	SourceID   string  `json:"source_id"`
	SuperID    *string `json:"super_id"`
	NTKnown    labels  `json:"nt_known"`
	NTGuess    labels  `json:"nt_guess"`
}

func (l synapseLine) input() (core.SynapseInput, error) {
	if l.SynapseID == nil {
		return core.SynapseInput{}, fmt.Errorf("synapse_id required")
	}
	if l.SkeletonID == nil {
		return core.SynapseInput{}, fmt.Errorf("skeleton_id required")
	}
	return core.SynapseInput{
		X: l.X, Y: l.Y, Z: l.Z,
		SynapseID:  *l.SynapseID,
		SkeletonID: *l.SkeletonID,
		SourceID:   l.SourceID,
		SuperID:    l.SuperID,
		NTKnown:    l.NTKnown,
		NTGuess:    l.NTGuess,
	}, nil
}

// ingest adds every synapse of r and stops at the first failing line.
func ingest(ctx context.Context, svc *core.Service, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var line synapseLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		in, err := line.input()
		if err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := svc.AddSynapse(ctx, in); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		n++
	}
	return n, scanner.Err()
}
