package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"synister/internal/blob"
	"synister/pkg/domain"
)

// BlobScheme prefixes checkpoint paths that live in the blob store.
const BlobScheme = "blob://"

// ManifestKey is the blob key of a worker's run manifest.
func ManifestKey(scope domain.RunScope, workerID, totalWorkers int) string {
	return fmt.Sprintf("runs/%s/t%d/p%d/%s/worker-%d-of-%d.json",
		scope.Experiment, scope.TrainNumber, scope.PredictNumber, scope.SplitName, workerID, totalWorkers)
}

// stageCheckpoint returns a local path for checkpoint. blob:// paths are
// copied into a temporary file removed by the returned cleanup.
func stageCheckpoint(ctx context.Context, blobs blob.Store, checkpoint string) (string, func(), error) {
	noop := func() {}
	key, ok := strings.CutPrefix(checkpoint, BlobScheme)
	if !ok {
		return checkpoint, noop, nil
	}
	if blobs == nil {
		return "", noop, fmt.Errorf("checkpoint %s needs a blob store", checkpoint)
	}
	_, rc, err := blobs.Get(ctx, key)
	if err != nil {
		return "", noop, fmt.Errorf("fetch checkpoint %s: %w", key, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "synister-checkpoint-*")
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		cleanup()
		return "", noop, fmt.Errorf("stage checkpoint %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, err
	}
	return f.Name(), cleanup, nil
}

// publishManifest replaces the manifest stored under key.
func publishManifest(ctx context.Context, blobs blob.Store, key string, report Report) error {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if _, err := blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("replace manifest %s: %w", key, err)
	}
	_, err = blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"run_id": report.RunID},
	})
	if err != nil {
		return fmt.Errorf("publish manifest %s: %w", key, err)
	}
	return nil
}
