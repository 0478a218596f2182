package pipeline

import (
	"testing"

	"synister/testutil"
)

func TestPipelineReachesStorageThroughCore(t *testing.T) {
	forbidden := testutil.PrefixForbidden("synister/internal/infra")
	testutil.AssertNoDirectImports(t, ".", forbidden, "the pipeline writes through core and the blob facade")
}
