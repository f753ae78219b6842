package orchestrator

import (
	"context"
	"fmt"
	"os"

	"mirrorhub/pkg/integrity"
)

// PostProcessor runs between a successful download and the first upload
// for tasks submitted with post_process. It must be bounded: the pipeline
// cannot be canceled while the hook runs.
type PostProcessor interface {
	Process(ctx context.Context, taskID, payloadPath string) error
}

// payloadVerifier is the default hook: it checks the payload actually
// landed on disk, is not empty, and records its checksums.
type payloadVerifier struct{}

func (payloadVerifier) Process(_ context.Context, taskID string, payloadPath string) error {
	info, err := os.Stat(payloadPath)
	if err != nil {
		return fmt.Errorf("payload missing after download: %w", err)
	}
	if info.IsDir() {
		return nil
	}
	if info.Size() == 0 {
		return fmt.Errorf("payload %s is empty", payloadPath)
	}

	hashes, err := integrity.HashFile(payloadPath)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s payload verified: %d bytes, sha256=%s\n", taskID, hashes.Size, hashes.SHA256)
	return nil
}
